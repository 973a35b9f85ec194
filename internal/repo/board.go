package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"boardsync-backend/internal/board"
	"boardsync-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrBoardNotFound = errors.New("board not found")
	// ErrSerialConflict means another writer advanced the board first.
	ErrSerialConflict = errors.New("board serial changed concurrently")
)

// BoardRepo represents the repository for boards and their event logs
type BoardRepo struct {
	db *gorm.DB
}

type BoardRepoInterface interface {
	CreateBoard(board *models.Board) (uuid.UUID, error)
	GetAllBoards() ([]models.Board, error)
	GetBoard(boardId uuid.UUID) (*models.Board, error)
	SetArchiveURL(boardId uuid.UUID, url string) error

	LoadBoard(ctx context.Context, boardID string) (*board.Board, string, error)
	AppendEntries(ctx context.Context, b *board.Board, entries []board.HistoryEntry) error
	EntriesSince(ctx context.Context, boardID string, serial int64) ([]board.HistoryEntry, error)
	ImportBoard(ctx context.Context, owner string, b *board.Board, entries []board.HistoryEntry) (uuid.UUID, error)
	ReplaceHistory(ctx context.Context, b *board.Board, from int64, entries []board.HistoryEntry) error
}

func NewBoardRepository(db *gorm.DB) BoardRepoInterface {
	return &BoardRepo{db: db}
}

// CreateBoard creates a new empty board in the database
func (r *BoardRepo) CreateBoard(m *models.Board) (uuid.UUID, error) {
	id := uuid.New()
	snapshot, err := json.Marshal(board.New(id.String(), m.Title, 0, 0))
	if err != nil {
		return uuid.Nil, err
	}
	m.UUID = id
	m.Serial = 0
	m.Snapshot = snapshot
	m.CreatedAt = time.Now()
	m.UpdatedAt = time.Now()
	err = r.db.Create(m).Error
	return id, err
}

// GetAllBoards returns all boards without their snapshots
func (r *BoardRepo) GetAllBoards() ([]models.Board, error) {
	var boards []models.Board
	err := r.db.Omit("snapshot").Order("updated_at desc").Find(&boards).Error
	return boards, err
}

func (r *BoardRepo) GetBoard(boardId uuid.UUID) (*models.Board, error) {
	var m models.Board
	err := r.db.First(&m, "uuid = ?", boardId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBoardNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *BoardRepo) SetArchiveURL(boardId uuid.UUID, url string) error {
	res := r.db.Model(&models.Board{}).Where("uuid = ?", boardId).Update("archive_url", url)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrBoardNotFound
	}
	return nil
}

// LoadBoard returns the current board and the id of its owner. Snapshots in
// older shapes are migrated on the way out.
func (r *BoardRepo) LoadBoard(ctx context.Context, boardID string) (*board.Board, string, error) {
	id, err := uuid.Parse(boardID)
	if err != nil {
		return nil, "", ErrBoardNotFound
	}
	var m models.Board
	err = r.db.WithContext(ctx).First(&m, "uuid = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", ErrBoardNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("load board %s: %w", boardID, err)
	}
	b, err := toBoard(&m)
	if err != nil {
		return nil, "", err
	}
	return b, m.UserID, nil
}

func toBoard(m *models.Board) (*board.Board, error) {
	id := m.UUID.String()
	b := board.New(id, m.Title, 0, 0)
	if len(m.Snapshot) > 0 {
		var err error
		if b, err = board.NormalizeBoard(m.Snapshot); err != nil {
			return nil, fmt.Errorf("snapshot of board %s: %w", id, err)
		}
	}
	b.ID = id
	b.Serial = m.Serial
	return b, nil
}

// AppendEntries stores freshly sequenced entries together with the board they
// produced. It fails with ErrSerialConflict unless the stored board is still
// at the serial the first entry was applied to.
func (r *BoardRepo) AppendEntries(ctx context.Context, b *board.Board, entries []board.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	id, err := uuid.Parse(b.ID)
	if err != nil {
		return ErrBoardNotFound
	}
	rows, err := toRows(id, entries)
	if err != nil {
		return err
	}
	snapshot, err := json.Marshal(b)
	if err != nil {
		return err
	}
	from := entries[0].FirstSerial - 1

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Board{}).
			Where("uuid = ? AND serial = ?", id, from).
			Updates(map[string]any{
				"serial":     b.Serial,
				"title":      b.Name,
				"snapshot":   snapshot,
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrSerialConflict
		}
		return tx.Create(&rows).Error
	})
}

// EntriesSince returns the stored entries with a serial above serial, oldest
// first.
func (r *BoardRepo) EntriesSince(ctx context.Context, boardID string, serial int64) ([]board.HistoryEntry, error) {
	id, err := uuid.Parse(boardID)
	if err != nil {
		return nil, ErrBoardNotFound
	}
	var rows []models.BoardEvent
	err = r.db.WithContext(ctx).
		Where("board_uuid = ? AND serial > ?", id, serial).
		Order("serial asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	entries := make([]board.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		ev, err := board.NormalizeEvent(row.Payload)
		if err != nil {
			return nil, fmt.Errorf("event %d of board %s: %w", row.Serial, boardID, err)
		}
		entries = append(entries, board.HistoryEntry{
			Event:       ev,
			User:        board.UserInfo{ID: row.UserID, Name: row.UserName},
			Timestamp:   row.CreatedAt,
			Serial:      row.Serial,
			FirstSerial: row.FirstSerial,
			AckID:       row.AckID,
		})
	}
	return entries, nil
}

// ImportBoard stores a board and its history under a new id.
func (r *BoardRepo) ImportBoard(ctx context.Context, owner string, b *board.Board, entries []board.HistoryEntry) (uuid.UUID, error) {
	id := uuid.New()
	b, entries = withBoardID(b, entries, id.String())
	snapshot, err := json.Marshal(b)
	if err != nil {
		return uuid.Nil, err
	}
	rows, err := toRows(id, entries)
	if err != nil {
		return uuid.Nil, err
	}
	now := time.Now()
	m := &models.Board{
		UUID:      id,
		Title:     b.Name,
		UserID:    owner,
		Serial:    b.Serial,
		Snapshot:  snapshot,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	return id, err
}

// ReplaceHistory swaps the whole event log of a board, as done after a
// failed history validation. from is the serial the caller read; the swap
// fails with ErrSerialConflict if the board has moved on since.
func (r *BoardRepo) ReplaceHistory(ctx context.Context, b *board.Board, from int64, entries []board.HistoryEntry) error {
	id, err := uuid.Parse(b.ID)
	if err != nil {
		return ErrBoardNotFound
	}
	rows, err := toRows(id, entries)
	if err != nil {
		return err
	}
	snapshot, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Board{}).Where("uuid = ? AND serial = ?", id, from).Updates(map[string]any{
			"serial":     b.Serial,
			"snapshot":   snapshot,
			"updated_at": time.Now(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&models.Board{}).Where("uuid = ?", id).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return ErrBoardNotFound
			}
			return ErrSerialConflict
		}
		if err := tx.Where("board_uuid = ?", id).Delete(&models.BoardEvent{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
}

func toRows(id uuid.UUID, entries []board.HistoryEntry) ([]models.BoardEvent, error) {
	rows := make([]models.BoardEvent, 0, len(entries))
	for _, e := range entries {
		payload, err := json.Marshal(e.Event)
		if err != nil {
			return nil, fmt.Errorf("encode event %d: %w", e.Serial, err)
		}
		first := e.FirstSerial
		if first == 0 {
			first = e.Serial
		}
		at := e.Timestamp
		if at.IsZero() {
			at = time.Now()
		}
		rows = append(rows, models.BoardEvent{
			BoardUUID:   id,
			Serial:      e.Serial,
			FirstSerial: first,
			Action:      string(e.Action),
			UserID:      e.User.ID,
			UserName:    e.User.Name,
			AckID:       e.AckID,
			Payload:     payload,
			CreatedAt:   at,
		})
	}
	return rows, nil
}

func withBoardID(b *board.Board, entries []board.HistoryEntry, id string) (*board.Board, []board.HistoryEntry) {
	next := *b
	next.ID = id
	out := make([]board.HistoryEntry, len(entries))
	for i, e := range entries {
		e.BoardID = id
		out[i] = e
	}
	return &next, out
}
