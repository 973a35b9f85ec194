// Package protocol defines the websocket messages exchanged between board
// clients and the server. Every message is a flat JSON object whose "action"
// field selects the shape. Confirmed history entries travel as the entry
// itself, so their action is the board action that was confirmed.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"boardsync-backend/internal/board"
)

type MessageType string

const (
	TypePing       MessageType = "ping"
	TypePong       MessageType = "pong"
	TypeJoin       MessageType = "board.join"
	TypeEvents     MessageType = "events"
	TypeInit       MessageType = "board.init"
	TypeInitDiff   MessageType = "board.init.diff"
	TypeJoinDenied MessageType = "board.join.denied"
	TypeAck        MessageType = "ack"
	TypeError      MessageType = "error"
	// TypeEntry is never on the wire; it stands for any confirmed entry.
	TypeEntry MessageType = "entry"
)

// DenyReason explains why a join was refused.
type DenyReason string

const (
	DenyNotFound      DenyReason = "not-found"
	DenyPermanently   DenyReason = "denied-permanently"
	DenyTemporarily   DenyReason = "denied-temporarily"
	DenyLoginRequired DenyReason = "login-required"
)

var ErrMissingAction = errors.New("message has no action")

type Message interface {
	Kind() MessageType
}

type Ping struct{}

type Pong struct{}

// Join asks for a board. InitAtSerial > 0 resumes from that serial.
type Join struct {
	BoardID      string `json:"boardId"`
	InitAtSerial int64  `json:"initAtSerial,omitempty"`
}

// Events is one outbound batch. AckID is echoed in the matching Ack.
type Events struct {
	BoardID string        `json:"boardId"`
	AckID   string        `json:"ackId"`
	Events  []board.Event `json:"events"`
}

type Init struct {
	Board  *board.Board      `json:"board"`
	Access board.AccessLevel `json:"access"`
}

// InitDiff is one chunk of a resumed join. The chunks of one join share
// InitAtSerial; the first has First set and the final one Last.
type InitDiff struct {
	Attributes   board.Attributes     `json:"boardAttributes"`
	InitAtSerial int64                `json:"initAtSerial"`
	RecentEvents []board.HistoryEntry `json:"recentEvents"`
	First        bool                 `json:"first"`
	Last         bool                 `json:"last"`
	Access       board.AccessLevel    `json:"access"`
}

type JoinDenied struct {
	BoardID string     `json:"boardId"`
	Reason  DenyReason `json:"reason"`
}

// Ack confirms a batch. Serials maps board id to the serial of the board
// after the batch was applied.
type Ack struct {
	AckID   string           `json:"ackId,omitempty"`
	Serials map[string]int64 `json:"serials"`
}

// Error reports a rejected request. AckID is set when a batch was refused.
type Error struct {
	AckID   string `json:"ackId,omitempty"`
	Message string `json:"message"`
}

// Entry is a confirmed event relayed by the server. Cursor positions use the
// same shape with a zero serial.
type Entry struct {
	board.HistoryEntry
}

func (Ping) Kind() MessageType       { return TypePing }
func (Pong) Kind() MessageType       { return TypePong }
func (Join) Kind() MessageType       { return TypeJoin }
func (Events) Kind() MessageType     { return TypeEvents }
func (Init) Kind() MessageType       { return TypeInit }
func (InitDiff) Kind() MessageType   { return TypeInitDiff }
func (JoinDenied) Kind() MessageType { return TypeJoinDenied }
func (Ack) Kind() MessageType        { return TypeAck }
func (Error) Kind() MessageType      { return TypeError }
func (Entry) Kind() MessageType      { return TypeEntry }

// Encode renders m as a flat JSON object with its action set.
func Encode(m Message) ([]byte, error) {
	if e, ok := m.(Entry); ok {
		return json.Marshal(e.HistoryEntry)
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	fields["action"], _ = json.Marshal(m.Kind())
	return json.Marshal(fields)
}

// Parse decodes one websocket frame. Events and entries may use the legacy
// singular payload fields; they come out in plural form.
func Parse(raw []byte) (Message, error) {
	var head struct {
		Action MessageType `json:"action"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	switch head.Action {
	case "":
		return nil, ErrMissingAction
	case TypePing:
		return Ping{}, nil
	case TypePong:
		return Pong{}, nil
	case TypeJoin:
		return decode[Join](raw)
	case TypeInit:
		return decode[Init](raw)
	case TypeInitDiff:
		return decode[InitDiff](raw)
	case TypeJoinDenied:
		return decode[JoinDenied](raw)
	case TypeAck:
		return decode[Ack](raw)
	case TypeError:
		return decode[Error](raw)
	case TypeEvents:
		var batch struct {
			BoardID string            `json:"boardId"`
			AckID   string            `json:"ackId"`
			Events  []json.RawMessage `json:"events"`
		}
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, fmt.Errorf("decode events: %w", err)
		}
		out := Events{BoardID: batch.BoardID, AckID: batch.AckID, Events: make([]board.Event, 0, len(batch.Events))}
		for _, r := range batch.Events {
			ev, err := board.NormalizeEvent(r)
			if err != nil {
				return nil, err
			}
			if ev.BoardID == "" {
				ev.BoardID = batch.BoardID
			}
			out.Events = append(out.Events, ev)
		}
		return out, nil
	default:
		entry, err := board.NormalizeEntry(raw)
		if err != nil {
			return nil, err
		}
		return Entry{HistoryEntry: entry}, nil
	}
}

func decode[T Message](raw []byte) (Message, error) {
	var m T
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", m.Kind(), err)
	}
	return m, nil
}
