package repo

import (
	"context"
	"testing"
	"time"

	"boardsync-backend/internal/board"
	"boardsync-backend/internal/config"
	"boardsync-backend/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func newRepo(t *testing.T) *BoardRepo {
	t.Helper()
	db, err := config.OpenDB("sqlite::memory:", logger.Silent)
	require.NoError(t, err)
	require.NoError(t, config.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return &BoardRepo{db: db}
}

func record(t *testing.T, log *board.Log, ev board.Event) board.HistoryEntry {
	t.Helper()
	e, err := log.Record(ev, board.UserInfo{ID: "alice", Name: "Alice"}, time.Now(), "ack-1")
	require.NoError(t, err)
	return e
}

func TestCreateAndLoadBoard(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	id, err := r.CreateBoard(&models.Board{Title: "Plan", UserID: "alice"})
	require.NoError(t, err)

	b, owner, err := r.LoadBoard(ctx, id.String())
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)
	assert.Equal(t, id.String(), b.ID)
	assert.Equal(t, "Plan", b.Name)
	assert.Equal(t, int64(0), b.Serial)
	assert.Empty(t, b.Items)

	boards, err := r.GetAllBoards()
	require.NoError(t, err)
	require.Len(t, boards, 1)
	assert.Empty(t, boards[0].Snapshot)

	_, _, err = r.LoadBoard(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrBoardNotFound)
	_, _, err = r.LoadBoard(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrBoardNotFound)
}

func TestAppendEntriesAndEntriesSince(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	id, err := r.CreateBoard(&models.Board{Title: "Plan", UserID: "alice"})
	require.NoError(t, err)
	b, _, err := r.LoadBoard(ctx, id.String())
	require.NoError(t, err)

	log := board.NewLog(b)
	e1 := record(t, log, board.Event{Action: board.ActionItemAdd, BoardID: b.ID, Items: []board.Item{{ID: "n1", Type: board.ItemNote, Width: 10, Height: 10, FontSize: board.DefaultFontSize}}})
	e2 := record(t, log, board.Event{Action: board.ActionItemMove, BoardID: b.ID, Moves: []board.ItemMove{{ID: "n1", X: 40, Y: 5}}})
	require.NoError(t, r.AppendEntries(ctx, log.Board(), []board.HistoryEntry{e1, e2}))

	stored, _, err := r.LoadBoard(ctx, id.String())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Serial)
	n1, ok := stored.Item("n1")
	require.True(t, ok)
	assert.Equal(t, 40.0, n1.X)

	entries, err := r.EntriesSince(ctx, id.String(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].Serial)
	assert.Equal(t, board.ActionItemMove, entries[0].Action)
	assert.Equal(t, "ack-1", entries[0].AckID)
	assert.Equal(t, board.UserInfo{ID: "alice", Name: "Alice"}, entries[0].User)

	all, err := r.EntriesSince(ctx, id.String(), 0)
	require.NoError(t, err)
	replayed, err := board.ReplayEntries(board.New(id.String(), "Plan", 0, 0), all, true)
	require.NoError(t, err)
	assert.Equal(t, stored.Items, replayed.Items)
}

func TestAppendEntriesDetectsConflict(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	id, err := r.CreateBoard(&models.Board{Title: "Plan", UserID: "alice"})
	require.NoError(t, err)
	b, _, err := r.LoadBoard(ctx, id.String())
	require.NoError(t, err)

	first := board.NewLog(b)
	e := record(t, first, board.Event{Action: board.ActionRename, BoardID: b.ID, Name: "A"})
	require.NoError(t, r.AppendEntries(ctx, first.Board(), []board.HistoryEntry{e}))

	stale := board.NewLog(b)
	e = record(t, stale, board.Event{Action: board.ActionRename, BoardID: b.ID, Name: "B"})
	assert.ErrorIs(t, r.AppendEntries(ctx, stale.Board(), []board.HistoryEntry{e}), ErrSerialConflict)

	stored, err := r.GetBoard(id)
	require.NoError(t, err)
	assert.Equal(t, "A", stored.Title)
	assert.Equal(t, int64(1), stored.Serial)
}

func TestImportAndReplaceHistory(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	src := board.New("legacy", "Old", 0, 0)
	log := board.NewLog(src)
	record(t, log, board.Event{Action: board.ActionItemAdd, BoardID: "legacy", Items: []board.Item{{ID: "n1", Type: board.ItemNote, Width: 10, Height: 10, FontSize: board.DefaultFontSize}}})
	record(t, log, board.Event{Action: board.ActionRename, BoardID: "legacy", Name: "Imported"})

	id, err := r.ImportBoard(ctx, "bob", log.Board(), log.Entries())
	require.NoError(t, err)
	b, owner, err := r.LoadBoard(ctx, id.String())
	require.NoError(t, err)
	assert.Equal(t, "bob", owner)
	assert.Equal(t, "Imported", b.Name)
	assert.Equal(t, int64(2), b.Serial)

	entries, err := r.EntriesSince(ctx, id.String(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, id.String(), e.BoardID)
	}

	boot := board.Bootstrap(b, time.Now())
	require.NoError(t, r.ReplaceHistory(ctx, b, b.Serial, []board.HistoryEntry{boot}))
	entries, err = r.EntriesSince(ctx, id.String(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, board.ActionBootstrap, entries[0].Action)
	assert.Equal(t, int64(1), entries[0].FirstSerial)
	assert.Equal(t, int64(2), entries[0].Serial)

	assert.ErrorIs(t, r.ReplaceHistory(ctx, board.New(uuid.NewString(), "", 0, 0), 0, nil), ErrBoardNotFound)
}

func TestReplaceHistoryDetectsConflict(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	id, err := r.CreateBoard(&models.Board{Title: "Plan", UserID: "alice"})
	require.NoError(t, err)
	loaded, _, err := r.LoadBoard(ctx, id.String())
	require.NoError(t, err)

	// another writer appends after the board was read
	log := board.NewLog(loaded)
	record(t, log, board.Event{Action: board.ActionRename, BoardID: id.String(), Name: "Moved on"})
	require.NoError(t, r.AppendEntries(ctx, log.Board(), log.Entries()))

	err = r.ReplaceHistory(ctx, loaded, loaded.Serial, nil)
	assert.ErrorIs(t, err, ErrSerialConflict)

	b, _, err := r.LoadBoard(ctx, id.String())
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.Serial)
	assert.Equal(t, "Moved on", b.Name)
	entries, err := r.EntriesSince(ctx, id.String(), 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestImportedLegacyBoardAcceptsEdits(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	legacy, err := board.NormalizeBoard([]byte(`{"id":"old","items":[{"id":"n1","type":"note"}]}`))
	require.NoError(t, err)
	legacy, entries, bootstrapped := board.ValidateHistory(legacy, nil)
	require.True(t, bootstrapped)

	id, err := r.ImportBoard(ctx, "alice", legacy, entries)
	require.NoError(t, err)
	b, _, err := r.LoadBoard(ctx, id.String())
	require.NoError(t, err)
	require.Equal(t, int64(1), b.Serial)

	log := board.NewLog(b)
	e := record(t, log, board.Event{Action: board.ActionRename, BoardID: id.String(), Name: "Renamed"})
	assert.Equal(t, int64(2), e.Serial)
	require.NoError(t, r.AppendEntries(ctx, log.Board(), log.Entries()))

	stored, err := r.EntriesSince(ctx, id.String(), 0)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, board.ActionBootstrap, stored[0].Action)
	assert.Equal(t, int64(2), stored[1].Serial)
}

func TestSetArchiveURL(t *testing.T) {
	r := newRepo(t)
	id, err := r.CreateBoard(&models.Board{Title: "Plan", UserID: "alice"})
	require.NoError(t, err)
	require.NoError(t, r.SetArchiveURL(id, "gs://bucket/x.json"))
	m, err := r.GetBoard(id)
	require.NoError(t, err)
	assert.Equal(t, "gs://bucket/x.json", m.ArchiveURL)
	assert.ErrorIs(t, r.SetArchiveURL(uuid.New(), "x"), ErrBoardNotFound)
}
