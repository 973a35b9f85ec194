package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"

	"boardsync-backend/internal/board"
	"boardsync-backend/internal/libraries"
	"boardsync-backend/internal/models"
	"boardsync-backend/internal/repo"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const userHeader = "X-User-Id"

// for simple crud operations service layer is not required
type BoardHandler struct {
	repo repo.BoardRepoInterface
	// archiver is nil when no bucket is configured
	archiver libraries.Archiver
	archives singleflight.Group
}

func NewBoardHandler(repo repo.BoardRepoInterface, archiver libraries.Archiver) *BoardHandler {
	return &BoardHandler{
		repo:     repo,
		archiver: archiver,
	}
}

func invalidBoardID(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "Invalid board ID",
	})
}

func boardError(c *fiber.Ctx, err error, msg string) error {
	if errors.Is(err, repo.ErrBoardNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Board not found",
		})
	}
	if errors.Is(err, repo.ErrSerialConflict) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Board changed, try again",
		})
	}
	slog.Error(msg, "board", c.Params("boardId"), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": msg,
	})
}

// function to create a board
func (h *BoardHandler) CreateBoard(c *fiber.Ctx) error {
	var dto struct {
		Title  string `json:"title"`
		UserID string `json:"userId"`
	}
	if err := c.BodyParser(&dto); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	userID := c.Get(userHeader, dto.UserID)
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "User id is required",
		})
	}

	id, err := h.repo.CreateBoard(&models.Board{
		Title:  dto.Title,
		UserID: userID,
	})
	if err != nil {
		slog.Error("error creating board", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create board",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"uuid":    id.String(),
		"message": "Board created successfully",
	})
}

// function to get all boards
func (h *BoardHandler) GetAllBoards(c *fiber.Ctx) error {
	boards, err := h.repo.GetAllBoards()
	if err != nil {
		slog.Error("error getting boards", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get boards",
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"boards": boards,
	})
}

// function to get the current board content by ID
func (h *BoardHandler) GetBoardByID(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("boardId"))
	if err != nil {
		return invalidBoardID(c)
	}

	b, owner, err := h.repo.LoadBoard(c.UserContext(), id.String())
	if err != nil {
		return boardError(c, err, "Failed to get board")
	}
	level := b.AccessPolicy.LevelFor(c.Get(userHeader), owner)
	if !level.Allows(board.AccessRead) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "No access to board",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"board":  b,
		"owner":  owner,
		"access": level,
	})
}

// GetHistory returns the board history folded the way clients display it.
// ?since=N starts after serial N.
func (h *BoardHandler) GetHistory(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("boardId"))
	if err != nil {
		return invalidBoardID(c)
	}
	since, err := strconv.ParseInt(c.Query("since", "0"), 10, 64)
	if err != nil || since < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid since",
		})
	}

	b, owner, err := h.repo.LoadBoard(c.UserContext(), id.String())
	if err != nil {
		return boardError(c, err, "Failed to get history")
	}
	if !b.AccessPolicy.LevelFor(c.Get(userHeader), owner).Allows(board.AccessRead) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "No access to board",
		})
	}
	entries, err := h.repo.EntriesSince(c.UserContext(), id.String(), since)
	if err != nil {
		return boardError(c, err, "Failed to get history")
	}

	var history board.History
	for _, e := range entries {
		history.Append(e)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"serial":  b.Serial,
		"history": history.Entries(),
		"total":   history.Len(),
	})
}

// ImportBoard stores a board exported by an older client, migrating its
// shape and replacing its history with a bootstrap entry if the history
// does not rebuild it.
func (h *BoardHandler) ImportBoard(c *fiber.Ctx) error {
	var dto struct {
		UserID  string            `json:"userId"`
		Board   json.RawMessage   `json:"board"`
		History []json.RawMessage `json:"history"`
	}
	if err := c.BodyParser(&dto); err != nil || len(dto.Board) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	userID := c.Get(userHeader, dto.UserID)
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "User id is required",
		})
	}

	b, err := board.NormalizeBoard(dto.Board)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	entries := make([]board.HistoryEntry, 0, len(dto.History))
	for _, raw := range dto.History {
		e, err := board.NormalizeEntry(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		entries = append(entries, e)
	}
	b, entries, bootstrapped := board.ValidateHistory(b, entries)

	id, err := h.repo.ImportBoard(c.UserContext(), userID, b, entries)
	if err != nil {
		slog.Error("error importing board", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to import board",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"uuid":         id.String(),
		"serial":       b.Serial,
		"bootstrapped": bootstrapped,
	})
}

// ValidateHistory checks that the stored log rebuilds the stored board and
// replaces it with a bootstrap entry when it does not.
func (h *BoardHandler) ValidateHistory(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("boardId"))
	if err != nil {
		return invalidBoardID(c)
	}
	ctx := c.UserContext()
	b, owner, err := h.repo.LoadBoard(ctx, id.String())
	if err != nil {
		return boardError(c, err, "Failed to validate history")
	}
	if !b.AccessPolicy.LevelFor(c.Get(userHeader), owner).Allows(board.AccessAdmin) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Admin access required",
		})
	}
	entries, err := h.repo.EntriesSince(ctx, id.String(), 0)
	if err != nil {
		return boardError(c, err, "Failed to validate history")
	}

	from := b.Serial
	b, entries, bootstrapped := board.ValidateHistory(b, entries)
	if bootstrapped {
		if err := h.repo.ReplaceHistory(ctx, b, from, entries); err != nil {
			return boardError(c, err, "Failed to replace history")
		}
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"bootstrapped": bootstrapped,
		"entries":      len(entries),
	})
}

// ArchiveBoard uploads the board and its history to the archive bucket.
// Only the board's admins may archive it. Concurrent requests for the same
// board share one upload.
func (h *BoardHandler) ArchiveBoard(c *fiber.Ctx) error {
	if h.archiver == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Archiving is not configured",
		})
	}
	id, err := uuid.Parse(c.Params("boardId"))
	if err != nil {
		return invalidBoardID(c)
	}
	ctx := c.UserContext()

	b, owner, err := h.repo.LoadBoard(ctx, id.String())
	if err != nil {
		return boardError(c, err, "Failed to archive board")
	}
	if !b.AccessPolicy.LevelFor(c.Get(userHeader), owner).Allows(board.AccessAdmin) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Admin access required",
		})
	}

	v, err, _ := h.archives.Do(id.String(), func() (any, error) {
		b, _, err := h.repo.LoadBoard(ctx, id.String())
		if err != nil {
			return "", err
		}
		entries, err := h.repo.EntriesSince(ctx, id.String(), 0)
		if err != nil {
			return "", err
		}
		url, err := h.archiver.Archive(ctx, libraries.Archive{Board: b, History: entries})
		if err != nil {
			return "", err
		}
		return url, h.repo.SetArchiveURL(id, url)
	})
	if err != nil {
		return boardError(c, err, "Failed to archive board")
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"url": v.(string),
	})
}
