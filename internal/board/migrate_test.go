package board

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBoardLegacyList(t *testing.T) {
	raw := []byte(`{
		"id": "b7", "name": "Old", "serial": 12,
		"items": [
			{"id": "g", "type": "container", "x": 0, "y": 0, "childIds": ["a", "missing"]},
			{"id": "a", "type": "note", "x": 10, "y": 10, "z": 4},
			{"id": "t", "type": "text", "x": 50, "y": 50, "width": 100, "height": 20}
		],
		"connections": [
			{"id": "k1", "from": {"itemId": "a"}, "to": {"itemId": "t"}},
			{"id": "k2", "from": {"itemId": "a"}, "to": {"itemId": "gone"}},
			{"id": "k3", "from": {"x": 1, "y": 2}, "to": {"itemId": "t"}, "toStyle": "none", "containerId": "nope"}
		]
	}`)

	b, err := NormalizeBoard(raw)
	require.NoError(t, err)
	assert.Equal(t, "b7", b.ID)
	assert.Equal(t, int64(12), b.Serial)
	assert.Equal(t, DefaultBoardWidth, b.Width)

	require.Len(t, b.Items, 3)
	a := b.Items["a"]
	assert.Equal(t, "g", a.ContainerID)
	assert.Equal(t, 4, a.Z)
	assert.Equal(t, 200.0, a.Width)
	assert.Equal(t, DefaultFontSize, a.FontSize)

	g := b.Items["g"]
	assert.Equal(t, 600.0, g.Width)
	assert.Equal(t, 0, g.Z)

	tx := b.Items["t"]
	assert.Equal(t, 5, tx.Z)
	assert.Equal(t, 100.0, tx.Width)

	require.Len(t, b.Connections, 2)
	assert.Equal(t, "k1", b.Connections[0].ID)
	assert.Equal(t, "none", b.Connections[0].FromStyle)
	assert.Equal(t, "arrow", b.Connections[0].ToStyle)
	assert.Equal(t, "k3", b.Connections[1].ID)
	assert.Equal(t, "none", b.Connections[1].ToStyle)
	assert.Empty(t, b.Connections[1].ContainerID)
}

func TestNormalizeBoardItemMap(t *testing.T) {
	raw := []byte(`{"id": "b8", "items": {
		"x": {"type": "image", "x": 1, "y": 2, "z": 1, "containerId": "y"},
		"y": {"type": "note", "z": 2}
	}}`)
	b, err := NormalizeBoard(raw)
	require.NoError(t, err)
	assert.Equal(t, "x", b.Items["x"].ID)
	assert.Empty(t, b.Items["x"].ContainerID, "a note cannot contain items")
	assert.Equal(t, 320.0, b.Items["x"].Width)
	assert.Zero(t, b.Items["x"].FontSize)
}

func TestNormalizeBoardEmptyAndBroken(t *testing.T) {
	b, err := NormalizeBoard([]byte(`{"id": "b9", "name": "Blank"}`))
	require.NoError(t, err)
	assert.Empty(t, b.Items)
	assert.Nil(t, b.Connections)

	_, err = NormalizeBoard([]byte(`{"items": 3}`))
	assert.Error(t, err)
}

func TestNormalizeEvent(t *testing.T) {
	ev, err := NormalizeEvent([]byte(`{
		"action": "item.delete", "boardId": "b1",
		"itemId": "n1", "itemIds": ["n2"], "connectionId": "k1"
	}`))
	require.NoError(t, err)
	assert.Equal(t, ActionItemDelete, ev.Action)
	assert.Equal(t, []string{"n1", "n2"}, ev.ItemIDs)
	assert.Equal(t, []string{"k1"}, ev.ConnectionIDs)

	ev, err = NormalizeEvent([]byte(`{"action": "item.move", "boardId": "b1", "move": {"id": "n1", "x": 3, "y": 4}}`))
	require.NoError(t, err)
	assert.Equal(t, []ItemMove{{ID: "n1", X: 3, Y: 4}}, ev.Moves)

	entry, err := NormalizeEntry([]byte(`{
		"action": "item.update", "boardId": "b1",
		"patch": {"id": "n1", "text": "x"},
		"user": {"id": "u1"}, "serial": 9, "firstSerial": 7,
		"timestamp": "2026-01-02T03:04:05Z"
	}`))
	require.NoError(t, err)
	require.Len(t, entry.Patches, 1)
	assert.Equal(t, "x", *entry.Patches[0].Text)
	assert.Equal(t, int64(9), entry.Serial)
	assert.Equal(t, int64(7), entry.FirstSerial)
	assert.Equal(t, "u1", entry.User.ID)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), entry.Timestamp.UTC())
}

func TestValidateHistory(t *testing.T) {
	log := NewLog(New("b1", "Planning", 0, 0))
	user := UserInfo{ID: "u1"}
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	_, err := log.Record(Event{Action: ActionItemAdd, BoardID: "b1", Items: []Item{
		{ID: "n1", Type: ItemNote, Width: 10, Height: 10},
		{ID: "n2", Type: ItemNote, X: 50, Width: 10, Height: 10},
	}}, user, at, "")
	require.NoError(t, err)
	_, err = log.Record(Event{Action: ActionConnectionAdd, BoardID: "b1", Connections: []Connection{
		{ID: "k1", From: Endpoint{ItemID: "n1"}, To: Endpoint{ItemID: "n2"}},
	}}, user, at, "")
	require.NoError(t, err)

	t.Run("consistent", func(t *testing.T) {
		b, entries, rebuilt := ValidateHistory(log.Board(), log.Entries())
		assert.False(t, rebuilt)
		assert.Same(t, log.Board(), b)
		assert.Equal(t, log.Entries(), entries)
	})

	t.Run("diverged", func(t *testing.T) {
		changed, _ := mustApply(t, log.Board(), Event{Action: ActionItemDelete, BoardID: "b1", ItemIDs: []string{"n2"}})
		b, entries, rebuilt := ValidateHistory(changed, log.Entries())
		require.True(t, rebuilt)
		assert.Equal(t, changed, b)
		require.Len(t, entries, 1)
		e := entries[0]
		assert.Equal(t, ActionBootstrap, e.Action)
		assert.Equal(t, SystemUser, e.User)
		assert.Equal(t, int64(1), e.FirstSerial)
		assert.Equal(t, int64(2), e.Serial)

		replayed, err := ReplayEntries(New("b1", "Planning", 0, 0), entries, true)
		require.NoError(t, err)
		assert.Equal(t, changed, replayed)
	})

	t.Run("gap", func(t *testing.T) {
		entries := log.Entries()[1:]
		_, out, rebuilt := ValidateHistory(log.Board(), entries)
		assert.True(t, rebuilt)
		require.Len(t, out, 1)
		assert.Equal(t, ActionBootstrap, out[0].Action)
	})

	t.Run("empty board", func(t *testing.T) {
		_, out, rebuilt := ValidateHistory(New("b2", "", 0, 0), nil)
		assert.False(t, rebuilt)
		assert.Nil(t, out)
	})

	t.Run("legacy board without serial", func(t *testing.T) {
		legacy, err := NormalizeBoard([]byte(`{"id":"b3","items":[{"id":"n1","type":"note"}]}`))
		require.NoError(t, err)
		require.Equal(t, int64(0), legacy.Serial)

		b, out, rebuilt := ValidateHistory(legacy, nil)
		require.True(t, rebuilt)
		require.Len(t, out, 1)
		assert.Equal(t, int64(1), out[0].Serial)
		assert.Equal(t, int64(1), b.Serial)
		assert.Equal(t, int64(0), legacy.Serial)

		replayed, err := ReplayEntries(New("b3", "", 0, 0), out, true)
		require.NoError(t, err)
		assert.Equal(t, b.Items, replayed.Items)
		assert.Equal(t, b.Serial, replayed.Serial)
	})
}
