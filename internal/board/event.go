package board

import "time"

// Action names one event variant. The set is closed; Apply rejects anything
// else with ErrUnknownAction.
type Action string

const (
	ActionItemAdd         Action = "item.add"
	ActionItemUpdate      Action = "item.update"
	ActionItemMove        Action = "item.move"
	ActionItemDelete      Action = "item.delete"
	ActionItemFront       Action = "item.front"
	ActionItemZ           Action = "item.z"
	ActionFontIncrease    Action = "item.font.increase"
	ActionFontDecrease    Action = "item.font.decrease"
	ActionItemLock        Action = "item.lock"
	ActionItemUnlock      Action = "item.unlock"
	ActionConnectionAdd   Action = "connection.add"
	ActionConnectionMod   Action = "connection.modify"
	ActionConnectionDel   Action = "connection.delete"
	ActionRename          Action = "board.rename"
	ActionSetAccessPolicy Action = "board.setAccessPolicy"
	ActionBootstrap       Action = "item.bootstrap"
	ActionCursor          Action = "cursor.position"
)

// Persistent reports whether the server assigns a serial to the action.
// Cursor positions are broadcast but never enter the log.
func (a Action) Persistent() bool {
	return a != ActionCursor
}

// ItemPatch sets the non-nil fields on an existing item.
type ItemPatch struct {
	ID       string   `json:"id"`
	Text     *string  `json:"text,omitempty"`
	Color    *string  `json:"color,omitempty"`
	Width    *float64 `json:"width,omitempty"`
	Height   *float64 `json:"height,omitempty"`
	FontSize *float64 `json:"fontSize,omitempty"`
	AssetID  *string  `json:"assetId,omitempty"`
}

// overlay returns p with every field set in o taking precedence.
func (p ItemPatch) overlay(o ItemPatch) ItemPatch {
	if o.Text != nil {
		p.Text = o.Text
	}
	if o.Color != nil {
		p.Color = o.Color
	}
	if o.Width != nil {
		p.Width = o.Width
	}
	if o.Height != nil {
		p.Height = o.Height
	}
	if o.FontSize != nil {
		p.FontSize = o.FontSize
	}
	if o.AssetID != nil {
		p.AssetID = o.AssetID
	}
	return p
}

// ItemMove places an item at an absolute position inside ContainerID
// (empty means top level).
type ItemMove struct {
	ID          string  `json:"id"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	ContainerID string  `json:"containerId,omitempty"`
}

// Event is a mutation intent. Which payload fields are meaningful depends on
// Action:
//
//	item.add, item.bootstrap      Items, Connections, Indexes
//	item.update                   Patches
//	item.move                     Moves, Connections (pinned geometry)
//	item.delete                   ItemIDs, ConnectionIDs
//	item.front, font, lock        ItemIDs
//	item.z                        Z
//	connection.add                Connections, Indexes
//	connection.modify             Connections
//	connection.delete             ConnectionIDs
//	board.rename                  Name
//	board.setAccessPolicy         AccessPolicy
//	cursor.position               Cursor
type Event struct {
	Action        Action         `json:"action"`
	BoardID       string         `json:"boardId"`
	Items         []Item         `json:"items,omitempty"`
	Patches       []ItemPatch    `json:"patches,omitempty"`
	Moves         []ItemMove     `json:"moves,omitempty"`
	ItemIDs       []string       `json:"itemIds,omitempty"`
	Connections   []Connection   `json:"connections,omitempty"`
	ConnectionIDs []string       `json:"connectionIds,omitempty"`
	Indexes       map[string]int `json:"indexes,omitempty"`
	Z             map[string]int `json:"z,omitempty"`
	Name          string         `json:"name,omitempty"`
	AccessPolicy  *AccessPolicy  `json:"accessPolicy,omitempty"`
	Cursor        *Point         `json:"cursor,omitempty"`
}

type UserInfo struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// SystemUser authors synthetic entries such as bootstrap snapshots.
var SystemUser = UserInfo{ID: "system", Name: "system"}

// HistoryEntry is a confirmed event. FirstSerial is the serial of the
// earliest event folded into the entry, Serial the latest.
type HistoryEntry struct {
	Event
	User        UserInfo  `json:"user"`
	Timestamp   time.Time `json:"timestamp"`
	Serial      int64     `json:"serial"`
	FirstSerial int64     `json:"firstSerial"`
	AckID       string    `json:"ackId,omitempty"`
}

func (e HistoryEntry) first() int64 {
	if e.FirstSerial == 0 {
		return e.Serial
	}
	return e.FirstSerial
}
