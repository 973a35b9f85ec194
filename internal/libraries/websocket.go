package libraries

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"boardsync-backend/internal/board"
	"boardsync-backend/internal/protocol"
	"boardsync-backend/internal/repo"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	sendBufferSize       = 256
	defaultDiffChunkSize = 100
)

// BoardStore is the persistence the hub needs. repo.BoardRepo implements it.
type BoardStore interface {
	LoadBoard(ctx context.Context, boardID string) (*board.Board, string, error)
	AppendEntries(ctx context.Context, b *board.Board, entries []board.HistoryEntry) error
	EntriesSince(ctx context.Context, boardID string, serial int64) ([]board.HistoryEntry, error)
}

type Client struct {
	ID   string
	User board.UserInfo
	Conn *websocket.Conn
	Send chan []byte
	once sync.Once

	// joined boards, only touched by the hub goroutine
	boards map[string]struct{}
}

func NewClient(user board.UserInfo, conn *websocket.Conn) *Client {
	return &Client{
		ID:     uuid.NewString(),
		User:   user,
		Conn:   conn,
		Send:   make(chan []byte, sendBufferSize),
		boards: map[string]struct{}{},
	}
}

type inbound struct {
	client *Client
	msg    protocol.Message
	err    error
}

// room is a loaded board and the clients that joined it, with the access
// level each one was granted.
type room struct {
	board   *board.Board
	owner   string
	members map[*Client]board.AccessLevel
}

func (r *room) level(userID string) board.AccessLevel {
	return r.board.AccessPolicy.LevelFor(userID, r.owner)
}

type HubOptions struct {
	Store   BoardStore
	Metrics *Metrics
	// Feed is optional.
	Feed          Feed
	Logger        *slog.Logger
	DiffChunkSize int
}

// Hub owns every room. All state is confined to the goroutine running Run;
// connections talk to it through Register, Unregister and Receive.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	inbox      chan inbound
	done       chan struct{}

	clients map[string]*Client
	rooms   map[string]*room

	store     BoardStore
	metrics   *Metrics
	feed      Feed
	logger    *slog.Logger
	chunkSize int
}

func NewHub(opts HubOptions) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	chunk := opts.DiffChunkSize
	if chunk <= 0 {
		chunk = defaultDiffChunkSize
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbox:      make(chan inbound, sendBufferSize),
		done:       make(chan struct{}),
		clients:    make(map[string]*Client),
		rooms:      make(map[string]*room),
		store:      opts.Store,
		metrics:    metrics,
		feed:       opts.Feed,
		logger:     logger.With("component", "hub"),
		chunkSize:  chunk,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, c := range h.clients {
				h.drop(c)
			}
			return
		case client := <-h.register:
			h.clients[client.ID] = client
			h.metrics.Connections.Inc()
		case client := <-h.unregister:
			h.drop(client)
		case in := <-h.inbox:
			if h.clients[in.client.ID] != in.client {
				continue
			}
			if in.err != nil {
				h.send(in.client, protocol.Error{Message: in.err.Error()})
				continue
			}
			h.handle(ctx, in.client, in.msg)
		}
	}
}

// Register adds a client. It reports false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Receive queues a message read from c. A non-nil err is reported back to
// the client instead.
func (h *Hub) Receive(c *Client, msg protocol.Message, err error) bool {
	select {
	case h.inbox <- inbound{client: c, msg: msg, err: err}:
		return true
	case <-h.done:
		return false
	}
}

// drop forgets a client, leaves all its rooms and closes its send channel.
func (h *Hub) drop(c *Client) {
	if h.clients[c.ID] != c {
		return
	}
	delete(h.clients, c.ID)
	for id := range c.boards {
		h.leave(id, c)
	}
	c.once.Do(func() {
		close(c.Send)
	})
	h.metrics.Connections.Dec()
}

func (h *Hub) leave(boardID string, c *Client) {
	delete(c.boards, boardID)
	r, ok := h.rooms[boardID]
	if !ok {
		return
	}
	delete(r.members, c)
	h.closeIfEmpty(boardID)
}

func (h *Hub) closeIfEmpty(boardID string) {
	if r, ok := h.rooms[boardID]; ok && len(r.members) == 0 {
		delete(h.rooms, boardID)
		h.metrics.Rooms.Dec()
	}
}

func (h *Hub) handle(ctx context.Context, c *Client, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Ping:
		h.send(c, protocol.Pong{})
	case protocol.Pong:
	case protocol.Join:
		h.join(ctx, c, m)
	case protocol.Events:
		h.events(ctx, c, m)
	default:
		h.send(c, protocol.Error{Message: fmt.Sprintf("unexpected message %s", msg.Kind())})
	}
}

func (h *Hub) send(c *Client, msg protocol.Message) {
	raw, err := protocol.Encode(msg)
	if err != nil {
		h.logger.Error("failed to encode message", "action", msg.Kind(), "error", err)
		return
	}
	h.sendRaw(c, raw)
}

// sendRaw never blocks the hub: a client whose buffer is full is dropped and
// has to rejoin.
func (h *Hub) sendRaw(c *Client, raw []byte) {
	if h.clients[c.ID] != c {
		return
	}
	select {
	case c.Send <- raw:
	default:
		h.logger.Warn("send buffer full, dropping client", "client", c.ID, "user", c.User.ID)
		h.metrics.Dropped.Inc()
		h.drop(c)
	}
}

func (h *Hub) room(ctx context.Context, boardID string) (*room, error) {
	if r, ok := h.rooms[boardID]; ok {
		return r, nil
	}
	b, owner, err := h.store.LoadBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	r := &room{board: b, owner: owner, members: map[*Client]board.AccessLevel{}}
	h.rooms[boardID] = r
	h.metrics.Rooms.Inc()
	return r, nil
}

func (h *Hub) deny(c *Client, boardID string, reason protocol.DenyReason) {
	h.metrics.Joins.WithLabelValues("denied").Inc()
	h.send(c, protocol.JoinDenied{BoardID: boardID, Reason: reason})
}

func (h *Hub) join(ctx context.Context, c *Client, m protocol.Join) {
	r, err := h.room(ctx, m.BoardID)
	switch {
	case errors.Is(err, repo.ErrBoardNotFound):
		h.deny(c, m.BoardID, protocol.DenyNotFound)
		return
	case err != nil:
		h.logger.Error("failed to load board", "board", m.BoardID, "error", err)
		h.deny(c, m.BoardID, protocol.DenyTemporarily)
		return
	}

	level := r.level(c.User.ID)
	if level == board.AccessNone {
		reason := protocol.DenyPermanently
		if c.User.ID == "" {
			reason = protocol.DenyLoginRequired
		}
		h.deny(c, m.BoardID, reason)
		h.closeIfEmpty(m.BoardID)
		return
	}
	r.members[c] = level
	c.boards[m.BoardID] = struct{}{}

	if m.InitAtSerial > 0 && h.sendDiff(ctx, c, r, m.InitAtSerial, level) {
		h.metrics.Joins.WithLabelValues("diff").Inc()
		return
	}
	h.metrics.Joins.WithLabelValues("init").Inc()
	h.send(c, protocol.Init{Board: r.board, Access: level})
}

// sendDiff resumes a client at serial from. It reports false when the stored
// log cannot bring the client forward one serial at a time, in which case a
// full init is needed.
func (h *Hub) sendDiff(ctx context.Context, c *Client, r *room, from int64, level board.AccessLevel) bool {
	if from > r.board.Serial {
		return false
	}
	var entries []board.HistoryEntry
	if from < r.board.Serial {
		var err error
		entries, err = h.store.EntriesSince(ctx, r.board.ID, from)
		if err != nil {
			h.logger.Warn("failed to read events for diff", "board", r.board.ID, "from", from, "error", err)
			return false
		}
		if len(entries) == 0 || entries[0].FirstSerial != from+1 || entries[len(entries)-1].Serial != r.board.Serial {
			return false
		}
	}

	chunks := [][]board.HistoryEntry{nil}
	if len(entries) > 0 {
		chunks = slices.Collect(slices.Chunk(entries, h.chunkSize))
	}
	attrs := r.board.Attributes()
	for i, part := range chunks {
		h.send(c, protocol.InitDiff{
			Attributes:   attrs,
			InitAtSerial: from,
			RecentEvents: part,
			First:        i == 0,
			Last:         i == len(chunks)-1,
			Access:       level,
		})
	}
	return true
}

func (h *Hub) reject(c *Client, ackID, reason string, err error) {
	h.logger.Info("rejecting batch", "client", c.ID, "ackId", ackID, "reason", reason, "error", err)
	h.metrics.Rejected.WithLabelValues(reason).Inc()
	h.send(c, protocol.Error{AckID: ackID, Message: err.Error()})
}

// events sequences one batch. The whole batch is validated against a scratch
// log and persisted in one transaction before anything is broadcast, so a
// refused batch leaves no trace.
func (h *Hub) events(ctx context.Context, c *Client, m protocol.Events) {
	start := time.Now()
	r, ok := h.rooms[m.BoardID]
	var level board.AccessLevel
	if ok {
		level, ok = r.members[c]
	}
	if !ok {
		h.reject(c, m.AckID, "not_joined", fmt.Errorf("board %s not joined", m.BoardID))
		return
	}

	log := board.NewLog(r.board)
	now := time.Now().UTC()
	var entries, cursors []board.HistoryEntry
	for _, ev := range m.Events {
		if ev.BoardID == "" {
			ev.BoardID = m.BoardID
		}
		if !level.Allows(board.RequiredLevel(ev.Action)) {
			h.reject(c, m.AckID, "access", fmt.Errorf("%s needs %s access", ev.Action, board.RequiredLevel(ev.Action)))
			return
		}
		if !ev.Action.Persistent() {
			if ev.BoardID != m.BoardID {
				h.reject(c, m.AckID, "invalid", board.ErrWrongBoard)
				return
			}
			cursors = append(cursors, board.HistoryEntry{Event: ev, User: c.User, Timestamp: now})
			continue
		}
		e, err := log.Record(ev, c.User, now, m.AckID)
		if err != nil {
			h.reject(c, m.AckID, "invalid", err)
			return
		}
		entries = append(entries, e)
	}

	if len(entries) > 0 {
		if err := h.store.AppendEntries(ctx, log.Board(), entries); err != nil {
			h.reject(c, m.AckID, "storage", err)
			if errors.Is(err, repo.ErrSerialConflict) {
				h.reload(ctx, m.BoardID)
			}
			return
		}
		policy := r.board.AccessPolicy
		r.board = log.Board()
		if r.board.AccessPolicy != policy {
			h.refreshAccess(m.BoardID, r)
		}
	}

	for _, e := range entries {
		h.metrics.Events.WithLabelValues(string(e.Action)).Inc()
		h.broadcast(ctx, r, c, e, true)
	}
	for _, e := range cursors {
		h.broadcast(ctx, r, c, e, false)
	}
	h.send(c, protocol.Ack{AckID: m.AckID, Serials: map[string]int64{m.BoardID: r.board.Serial}})
	h.metrics.BatchSeconds.Observe(time.Since(start).Seconds())
}

// broadcast relays an entry to every member of r except its author.
func (h *Hub) broadcast(ctx context.Context, r *room, from *Client, e board.HistoryEntry, publish bool) {
	raw, err := protocol.Encode(protocol.Entry{HistoryEntry: e})
	if err != nil {
		h.logger.Error("failed to encode entry", "serial", e.Serial, "error", err)
		return
	}
	for member := range r.members {
		if member != from {
			h.sendRaw(member, raw)
		}
	}
	if publish && h.feed != nil {
		if err := h.feed.Publish(ctx, e.BoardID, raw); err != nil {
			h.logger.Warn("failed to publish entry", "board", e.BoardID, "serial", e.Serial, "error", err)
		}
	}
}

// refreshAccess re-evaluates members after an access policy change. Members
// that lost access are removed; their next batch is refused, which makes
// them rejoin and learn about it.
func (h *Hub) refreshAccess(boardID string, r *room) {
	for member := range r.members {
		level := r.level(member.User.ID)
		if level == board.AccessNone {
			delete(r.members, member)
			delete(member.boards, boardID)
			continue
		}
		r.members[member] = level
	}
	h.closeIfEmpty(boardID)
}

// reload replaces the cached board after another writer advanced it.
func (h *Hub) reload(ctx context.Context, boardID string) {
	r, ok := h.rooms[boardID]
	if !ok {
		return
	}
	b, owner, err := h.store.LoadBoard(ctx, boardID)
	if err != nil {
		h.logger.Error("failed to reload board", "board", boardID, "error", err)
		return
	}
	r.board, r.owner = b, owner
	h.refreshAccess(boardID, r)
}

func userFrom(conn *websocket.Conn) board.UserInfo {
	return board.UserInfo{
		ID:   conn.Headers("X-User-Id", conn.Query("userId")),
		Name: conn.Headers("X-User-Name", conn.Query("userName")),
	}
}

func WebSocketHandler(hub *Hub) fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		client := NewClient(userFrom(conn), conn)
		logger := hub.logger.With("client", client.ID, "user", client.User.ID)
		if !hub.Register(client) {
			conn.Close()
			return
		}

		// Write loop
		go func() {
			defer conn.Close()
			for msg := range client.Send {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					logger.Warn("write error", "error", err)
					return
				}
			}
		}()

		// Read loop
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				logger.Debug("read error", "error", err)
				break
			}
			msg, err := protocol.Parse(raw)
			if err != nil {
				err = fmt.Errorf("invalid message: %w", err)
			}
			if !hub.Receive(client, msg, err) {
				break
			}
		}

		hub.Unregister(client)
		conn.Close()
	})
}
