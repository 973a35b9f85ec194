package board

import (
	"slices"
	"time"
)

// History is an ordered log of confirmed entries. Consecutive entries from
// the same user are folded together when Fold allows it.
type History struct {
	entries []HistoryEntry
}

// Append adds e to the log, folding it into the tail entry when both come
// from the same user and the serials are contiguous.
func (h *History) Append(e HistoryEntry) {
	if e.FirstSerial == 0 {
		e.FirstSerial = e.Serial
	}
	if n := len(h.entries); n > 0 {
		tail := h.entries[n-1]
		if tail.User.ID == e.User.ID && e.FirstSerial == tail.Serial+1 {
			if merged, ok := Fold(tail.Event, e.Event); ok {
				tail.Event = merged
				tail.Serial = e.Serial
				tail.Timestamp = e.Timestamp
				tail.AckID = e.AckID
				h.entries[n-1] = tail
				return
			}
		}
	}
	h.entries = append(h.entries, e)
}

func (h *History) Len() int { return len(h.entries) }

// Entries returns a copy of the log.
func (h *History) Entries() []HistoryEntry {
	return slices.Clone(h.entries)
}

// Log pairs a board with the history that produced it. It is the server-side
// accumulator: every recorded event gets the next serial, is applied in
// strict mode and appended to the folded history.
//
// A Log is not safe for concurrent use.
type Log struct {
	board   *Board
	history History
}

func NewLog(b *Board) *Log {
	return &Log{board: b}
}

func (l *Log) Board() *Board { return l.board }

func (l *Log) Entries() []HistoryEntry { return l.history.Entries() }

// Record assigns the next serial to ev, applies it and appends the entry.
func (l *Log) Record(ev Event, user UserInfo, at time.Time, ackID string) (HistoryEntry, error) {
	entry := HistoryEntry{
		Event:       ev,
		User:        user,
		Timestamp:   at,
		Serial:      l.board.Serial + 1,
		FirstSerial: l.board.Serial + 1,
		AckID:       ackID,
	}
	if err := l.Apply(entry); err != nil {
		return HistoryEntry{}, err
	}
	return entry, nil
}

// Apply applies an already sequenced entry in strict mode.
func (l *Log) Apply(entry HistoryEntry) error {
	next, _, err := ApplyEntry(l.board, entry, true)
	if err != nil {
		return err
	}
	l.board = next
	l.history.Append(entry)
	return nil
}
