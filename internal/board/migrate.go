package board

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

const (
	defaultFromStyle = "none"
	defaultToStyle   = "arrow"
)

var defaultSizes = map[ItemType]Point{
	ItemNote:      {X: 200, Y: 200},
	ItemText:      {X: 240, Y: 60},
	ItemImage:     {X: 320, Y: 240},
	ItemVideo:     {X: 480, Y: 270},
	ItemContainer: {X: 600, Y: 400},
}

type legacyItem struct {
	Item
	Z        *int     `json:"z"`
	ChildIDs []string `json:"childIds"`
}

type legacyBoard struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Width        float64         `json:"width"`
	Height       float64         `json:"height"`
	Serial       int64           `json:"serial"`
	Items        json.RawMessage `json:"items"`
	Connections  []Connection    `json:"connections"`
	AccessPolicy *AccessPolicy   `json:"accessPolicy"`
}

// NormalizeBoard decodes a stored board in any known shape and brings it to
// the current schema: items keyed by id, containment as child-to-container
// references, default sizes, z and font, connection endpoint styles.
// Connections whose anchored endpoints no longer resolve are dropped.
func NormalizeBoard(raw []byte) (*Board, error) {
	var lb legacyBoard
	if err := json.Unmarshal(raw, &lb); err != nil {
		return nil, fmt.Errorf("decode board: %w", err)
	}
	var items []legacyItem
	trimmed := bytes.TrimSpace(lb.Items)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
	case trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode item list: %w", err)
		}
	default:
		var byID map[string]legacyItem
		if err := json.Unmarshal(trimmed, &byID); err != nil {
			return nil, fmt.Errorf("decode item map: %w", err)
		}
		for id, it := range byID {
			if it.ID == "" {
				it.ID = id
			}
			items = append(items, it)
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	b := New(lb.ID, lb.Name, lb.Width, lb.Height)
	b.Serial = lb.Serial
	b.AccessPolicy = lb.AccessPolicy

	maxZ := 0
	for _, li := range items {
		if li.Z != nil && *li.Z > maxZ {
			maxZ = *li.Z
		}
	}
	for _, li := range items {
		it := li.Item
		if li.Z != nil {
			it.Z = *li.Z
		} else if it.Type != ItemContainer {
			maxZ++
			it.Z = maxZ
		}
		if size, ok := defaultSizes[it.Type]; ok {
			if it.Width <= 0 {
				it.Width = size.X
			}
			if it.Height <= 0 {
				it.Height = size.Y
			}
		}
		if it.Type.textBearing() && it.FontSize == 0 {
			it.FontSize = DefaultFontSize
		}
		b.Items[it.ID] = it
	}
	for _, li := range items {
		for _, child := range li.ChildIDs {
			it, ok := b.Items[child]
			if !ok || it.ContainerID != "" || child == li.ID {
				continue
			}
			it.ContainerID = li.ID
			b.Items[child] = it
		}
	}
	for id, it := range b.Items {
		if it.ContainerID == "" {
			continue
		}
		c, ok := b.Items[it.ContainerID]
		if !ok || c.Type != ItemContainer || !containerChain(b.Items, id, func(string) bool { return true }) {
			it.ContainerID = ""
			b.Items[id] = it
		}
	}

	for _, c := range lb.Connections {
		if c.FromStyle == "" {
			c.FromStyle = defaultFromStyle
		}
		if c.ToStyle == "" {
			c.ToStyle = defaultToStyle
		}
		if err := checkEndpoints(ActionBootstrap, b.Items, c); err != nil {
			slog.Warn("dropping connection during migration", "board", b.ID, "connection", c.ID, "error", err)
			continue
		}
		if _, ok := b.Items[c.ContainerID]; c.ContainerID != "" && !ok {
			c.ContainerID = ""
		}
		b.Connections = append(b.Connections, c)
	}
	return b, nil
}

type legacyEvent struct {
	Event
	Item         *Item       `json:"item"`
	Connection   *Connection `json:"connection"`
	ItemID       string      `json:"itemId"`
	ConnectionID string      `json:"connectionId"`
	Patch        *ItemPatch  `json:"patch"`
	Move         *ItemMove   `json:"move"`
}

func (le legacyEvent) plural() Event {
	ev := le.Event
	if le.Item != nil {
		ev.Items = append([]Item{*le.Item}, ev.Items...)
	}
	if le.Connection != nil {
		ev.Connections = append([]Connection{*le.Connection}, ev.Connections...)
	}
	if le.ItemID != "" {
		ev.ItemIDs = append([]string{le.ItemID}, ev.ItemIDs...)
	}
	if le.ConnectionID != "" {
		ev.ConnectionIDs = append([]string{le.ConnectionID}, ev.ConnectionIDs...)
	}
	if le.Patch != nil {
		ev.Patches = append([]ItemPatch{*le.Patch}, ev.Patches...)
	}
	if le.Move != nil {
		ev.Moves = append([]ItemMove{*le.Move}, ev.Moves...)
	}
	return ev
}

// NormalizeEvent decodes an event that may use the singular payload fields
// (item, connection, itemId, connectionId, patch, move) and returns it in the
// plural form used everywhere else.
func NormalizeEvent(raw []byte) (Event, error) {
	var le legacyEvent
	if err := json.Unmarshal(raw, &le); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return le.plural(), nil
}

// NormalizeEntry is NormalizeEvent for a stored history entry.
func NormalizeEntry(raw []byte) (HistoryEntry, error) {
	var le struct {
		legacyEvent
		User        UserInfo  `json:"user"`
		Timestamp   time.Time `json:"timestamp"`
		Serial      int64     `json:"serial"`
		FirstSerial int64     `json:"firstSerial"`
		AckID       string    `json:"ackId"`
	}
	if err := json.Unmarshal(raw, &le); err != nil {
		return HistoryEntry{}, fmt.Errorf("decode history entry: %w", err)
	}
	return HistoryEntry{
		Event:       le.plural(),
		User:        le.User,
		Timestamp:   le.Timestamp,
		Serial:      le.Serial,
		FirstSerial: le.FirstSerial,
		AckID:       le.AckID,
	}, nil
}

// ValidateHistory replays entries from an empty board with b's attributes
// and checks that the result matches b. If replay fails or the content
// differs, the history is replaced by a single item.bootstrap entry that
// carries the current items and connections; the third result is then true.
// The returned board carries the serial of the returned history, which is
// 1 when a board without a serial is bootstrapped.
func ValidateHistory(b *Board, entries []HistoryEntry) (*Board, []HistoryEntry, bool) {
	start := New(b.ID, b.Name, b.Width, b.Height)
	cur, err := ReplayEntries(start, entries, true)
	switch {
	case err != nil:
		slog.Warn("history does not replay, bootstrapping", "board", b.ID, "error", err)
	case cur.Serial != b.Serial ||
		!cmp.Equal(cur.Items, b.Items, cmpopts.EquateEmpty()) ||
		!cmp.Equal(cur.Connections, b.Connections, cmpopts.EquateEmpty()):
		slog.Warn("history replays to a different board, bootstrapping", "board", b.ID, "serial", b.Serial)
	default:
		return b, entries, false
	}
	if b.Serial == 0 && len(b.Items) == 0 && len(b.Connections) == 0 {
		return b, nil, true
	}
	var at time.Time
	if n := len(entries); n > 0 {
		at = entries[n-1].Timestamp
	}
	boot := Bootstrap(b, at)
	return b.WithSerial(boot.Serial), []HistoryEntry{boot}, true
}

// Bootstrap builds the synthetic entry that recreates b from an empty board.
// A board at serial 0 gets serial 1; the caller must move the board along.
func Bootstrap(b *Board, at time.Time) HistoryEntry {
	serial := max(b.Serial, 1)
	return HistoryEntry{
		Event: Event{
			Action:      ActionBootstrap,
			BoardID:     b.ID,
			Items:       b.SortedItems(),
			Connections: append([]Connection(nil), b.Connections...),
		},
		User:        SystemUser,
		Timestamp:   at,
		Serial:      serial,
		FirstSerial: 1,
	}
}
