// Package board holds the event-sourced board model: the reducer that applies
// a typed event to an immutable board snapshot, the folding rules that merge
// redundant consecutive events, the history log and the undo/redo stacks.
//
// A *Board is never modified after it has been returned to a caller. Every
// operation produces a new value; older values stay valid and may still be
// referenced by history replay.
package board

import (
	"slices"
	"sort"
)

type ItemType string

const (
	ItemNote      ItemType = "note"
	ItemText      ItemType = "text"
	ItemImage     ItemType = "image"
	ItemVideo     ItemType = "video"
	ItemContainer ItemType = "container"
)

// textBearing reports whether font operations apply to the type.
func (t ItemType) textBearing() bool {
	return t == ItemNote || t == ItemText
}

const (
	DefaultFontSize    = 16.0
	DefaultBoardWidth  = 4000.0
	DefaultBoardHeight = 3000.0
	fontFactor         = 1.1
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Item is a single element on the board. ContainerID is a lookup-only
// reference to an enclosing container item.
type Item struct {
	ID          string   `json:"id"`
	Type        ItemType `json:"type"`
	X           float64  `json:"x"`
	Y           float64  `json:"y"`
	Width       float64  `json:"width"`
	Height      float64  `json:"height"`
	Z           int      `json:"z"`
	ContainerID string   `json:"containerId,omitempty"`
	Text        string   `json:"text,omitempty"`
	FontSize    float64  `json:"fontSize,omitempty"`
	Color       string   `json:"color,omitempty"`
	AssetID     string   `json:"assetId,omitempty"`
	Locked      bool     `json:"locked,omitempty"`
}

func (it Item) center() Point {
	return Point{X: it.X + it.Width/2, Y: it.Y + it.Height/2}
}

// Endpoint is either anchored to an item (ItemID set) or a free point.
type Endpoint struct {
	ItemID string  `json:"itemId,omitempty"`
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
}

func (e Endpoint) anchored() bool { return e.ItemID != "" }

type Connection struct {
	ID            string   `json:"id"`
	From          Endpoint `json:"from"`
	To            Endpoint `json:"to"`
	ControlPoints []Point  `json:"controlPoints,omitempty"`
	ContainerID   string   `json:"containerId,omitempty"`
	FromStyle     string   `json:"fromStyle,omitempty"`
	ToStyle       string   `json:"toStyle,omitempty"`
	Color         string   `json:"color,omitempty"`
}

func (c Connection) equal(o Connection) bool {
	return c.ID == o.ID && c.From == o.From && c.To == o.To &&
		c.ContainerID == o.ContainerID && c.FromStyle == o.FromStyle &&
		c.ToStyle == o.ToStyle && c.Color == o.Color &&
		slices.Equal(c.ControlPoints, o.ControlPoints)
}

type Board struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Width        float64         `json:"width"`
	Height       float64         `json:"height"`
	Serial       int64           `json:"serial"`
	Items        map[string]Item `json:"items"`
	Connections  []Connection    `json:"connections,omitempty"`
	AccessPolicy *AccessPolicy   `json:"accessPolicy,omitempty"`
}

// Attributes is the board header without its content, as sent at the start
// of a resumed join.
type Attributes struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Width        float64       `json:"width"`
	Height       float64       `json:"height"`
	Serial       int64         `json:"serial"`
	AccessPolicy *AccessPolicy `json:"accessPolicy,omitempty"`
}

// New returns an empty board at serial 0.
func New(id, name string, width, height float64) *Board {
	if width <= 0 {
		width = DefaultBoardWidth
	}
	if height <= 0 {
		height = DefaultBoardHeight
	}
	return &Board{
		ID:     id,
		Name:   name,
		Width:  width,
		Height: height,
		Items:  map[string]Item{},
	}
}

func (b *Board) Attributes() Attributes {
	return Attributes{
		ID:           b.ID,
		Name:         b.Name,
		Width:        b.Width,
		Height:       b.Height,
		Serial:       b.Serial,
		AccessPolicy: b.AccessPolicy,
	}
}

// WithSerial returns a copy of b at serial n. Content is shared with b.
func (b *Board) WithSerial(n int64) *Board {
	if b.Serial == n {
		return b
	}
	next := *b
	next.Serial = n
	return &next
}

// Item looks an item up by id.
func (b *Board) Item(id string) (Item, bool) {
	it, ok := b.Items[id]
	return it, ok
}

// Connection looks a connection up by id and returns its index.
func (b *Board) Connection(id string) (Connection, int, bool) {
	for i, c := range b.Connections {
		if c.ID == id {
			return c, i, true
		}
	}
	return Connection{}, -1, false
}

// SortedItems returns the items ordered by id.
func (b *Board) SortedItems() []Item {
	out := make([]Item, 0, len(b.Items))
	for _, it := range b.Items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// clone copies the containers of b so the copy can be modified without
// touching b. Items are values; connection control points are replaced,
// never written in place.
func (b *Board) clone() *Board {
	next := *b
	next.Items = make(map[string]Item, len(b.Items))
	for id, it := range b.Items {
		next.Items[id] = it
	}
	next.Connections = slices.Clone(b.Connections)
	return &next
}

// containerChain walks the container references upwards from id and reports
// false when it loops.
func containerChain(items map[string]Item, id string, visit func(string) bool) bool {
	seen := map[string]bool{id: true}
	cur := items[id].ContainerID
	for cur != "" {
		if seen[cur] {
			return false
		}
		seen[cur] = true
		if !visit(cur) {
			return true
		}
		parent, ok := items[cur]
		if !ok {
			return true
		}
		cur = parent.ContainerID
	}
	return true
}

func nilIfEmpty[T any](s []T) []T {
	if len(s) == 0 {
		return nil
	}
	return s
}

func ptr[T any](v T) *T { return &v }
