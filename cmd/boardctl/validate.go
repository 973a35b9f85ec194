package main

import (
	"encoding/json"
	"fmt"
	"os"

	"boardsync-backend/internal/board"
	"boardsync-backend/internal/libraries"

	"github.com/spf13/cobra"
)

// rawExport is an archive as written by any client version.
type rawExport struct {
	Board   json.RawMessage   `json:"board"`
	History []json.RawMessage `json:"history"`
}

// validateExport migrates an export to the current schema and checks that
// its history rebuilds the board.
func validateExport(raw []byte) (libraries.Archive, bool, error) {
	var in rawExport
	if err := json.Unmarshal(raw, &in); err != nil {
		return libraries.Archive{}, false, fmt.Errorf("decode export: %w", err)
	}
	if len(in.Board) == 0 {
		return libraries.Archive{}, false, fmt.Errorf("export has no board")
	}
	b, err := board.NormalizeBoard(in.Board)
	if err != nil {
		return libraries.Archive{}, false, err
	}
	entries := make([]board.HistoryEntry, 0, len(in.History))
	for i, r := range in.History {
		e, err := board.NormalizeEntry(r)
		if err != nil {
			return libraries.Archive{}, false, fmt.Errorf("history entry %d: %w", i, err)
		}
		entries = append(entries, e)
	}
	b, entries, bootstrapped := board.ValidateHistory(b, entries)
	return libraries.Archive{Board: b, History: entries}, bootstrapped, nil
}

func newValidateCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "validate [export.json]",
		Short: "Check that an export's history rebuilds its board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			archive, bootstrapped, err := validateExport(raw)
			if err != nil {
				return err
			}
			status := "history ok"
			if bootstrapped {
				status = "history replaced by bootstrap"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: serial %d, %d items, %d connections, %d entries, %s\n",
				archive.Board.ID, archive.Board.Serial, len(archive.Board.Items), len(archive.Board.Connections), len(archive.History), status)

			if out == "" {
				return nil
			}
			normalized, err := json.MarshalIndent(archive, "", "  ")
			if err != nil {
				return err
			}
			return os.WriteFile(out, normalized, 0o644)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the migrated export here")
	return cmd
}
