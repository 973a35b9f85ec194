package board

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogRecordFoldsSameUser(t *testing.T) {
	log := NewLog(integral())
	alice := UserInfo{ID: "alice"}
	bob := UserInfo{ID: "bob"}
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	drag := func(x float64) Event {
		return Event{Action: ActionItemMove, BoardID: "b1", Moves: []ItemMove{{ID: "t1", X: x, Y: 600}}}
	}

	for i, x := range []float64{610, 620, 630} {
		e, err := log.Record(drag(x), alice, at.Add(time.Duration(i)*time.Second), "ack-1")
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), e.Serial)
	}
	_, err := log.Record(Event{Action: ActionRename, BoardID: "b1", Name: "Renamed"}, bob, at, "ack-2")
	require.NoError(t, err)
	_, err = log.Record(drag(640), alice, at, "ack-3")
	require.NoError(t, err)

	entries := log.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, int64(1), entries[0].FirstSerial)
	assert.Equal(t, int64(3), entries[0].Serial)
	assert.Equal(t, 630.0, entries[0].Moves[0].X)
	assert.Equal(t, at.Add(2*time.Second), entries[0].Timestamp)
	assert.Equal(t, int64(4), entries[1].FirstSerial)
	assert.Equal(t, int64(5), entries[2].Serial)
	assert.Equal(t, int64(5), log.Board().Serial)

	start := integral()
	replayed, err := ReplayEntries(start, entries, true)
	require.NoError(t, err)
	assert.Equal(t, log.Board(), replayed)
}

func TestLogRecordRejectsInvalidEvent(t *testing.T) {
	log := NewLog(integral())
	_, err := log.Record(Event{Action: ActionItemDelete, BoardID: "b1", ItemIDs: []string{"ghost"}}, UserInfo{ID: "u"}, time.Now(), "")
	assert.ErrorIs(t, err, ErrItemNotFound)
	assert.Equal(t, int64(0), log.Board().Serial)
	assert.Equal(t, 0, len(log.Entries()))
}

func TestLogApplyStrict(t *testing.T) {
	log := NewLog(integral())
	err := log.Apply(HistoryEntry{Event: Event{Action: ActionRename, BoardID: "b1", Name: "x"}, Serial: 3, FirstSerial: 3})
	assert.ErrorIs(t, err, ErrSerialMismatch)
}

func TestHistoryAppendKeepsGaps(t *testing.T) {
	var h History
	ev := Event{Action: ActionItemZ, BoardID: "b1", Z: map[string]int{"n1": 1}}
	h.Append(HistoryEntry{Event: ev, User: UserInfo{ID: "u"}, Serial: 1})
	h.Append(HistoryEntry{Event: ev, User: UserInfo{ID: "u"}, Serial: 3})
	assert.Equal(t, 2, h.Len())
	assert.Equal(t, int64(3), h.Entries()[1].FirstSerial)
}
