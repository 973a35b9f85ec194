package libraries

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"boardsync-backend/internal/board"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

type Clients struct {
	GCS    *storage.Client
	Bucket string
}

func NewClients(ctx context.Context, bucket string) (*Clients, error) {
	// read base64 encoded JSON
	encoded := os.Getenv("GCP_SERVICE_ACCOUNT_CREDENTIALS")
	if encoded == "" {
		return nil, fmt.Errorf("GCP_SERVICE_ACCOUNT_CREDENTIALS not set")
	}

	// decode JSON
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode service account json: %w", err)
	}

	gcsClient, err := storage.NewClient(ctx, option.WithCredentialsJSON(decoded))
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}

	return &Clients{GCS: gcsClient, Bucket: bucket}, nil
}

func (c *Clients) Close() {
	c.GCS.Close()
}

// Archive is the document written for an archived board: the board and the
// history that rebuilds it from an empty board.
type Archive struct {
	Board   *board.Board         `json:"board"`
	History []board.HistoryEntry `json:"history"`
}

// Archiver stores board archives and returns where they went.
type Archiver interface {
	Archive(ctx context.Context, a Archive) (string, error)
}

// ArchiveObjectName is the object path of a board archive at its serial.
func ArchiveObjectName(b *board.Board) string {
	return fmt.Sprintf("boards/%s/%d.json", b.ID, b.Serial)
}

// Archive uploads a to the configured bucket and returns its gs:// url.
func (c *Clients) Archive(ctx context.Context, a Archive) (string, error) {
	name := ArchiveObjectName(a.Board)
	w := c.GCS.Bucket(c.Bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/json"
	if err := json.NewEncoder(w).Encode(a); err != nil {
		w.Close()
		return "", fmt.Errorf("write archive %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload archive %s: %w", name, err)
	}
	return fmt.Sprintf("gs://%s/%s", c.Bucket, name), nil
}
