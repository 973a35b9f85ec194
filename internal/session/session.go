// Package session is the client side of board synchronization. A Session
// owns the confirmed server shadow, the optimistic local board, the queue of
// unsent local events, the single in-flight batch and the user's undo/redo
// stacks. All state changes happen on one goroutine (Run); the public
// methods only post inputs to it.
//
// The local board always equals the shadow with the in-flight batch and then
// the queue replayed on top.
package session

import (
	"context"
	"log/slog"
	"sync"

	"boardsync-backend/internal/board"
	"boardsync-backend/internal/protocol"

	"github.com/google/uuid"
)

type Status string

const (
	StatusNone              Status = "none"
	StatusLoading           Status = "loading"
	StatusOffline           Status = "offline"
	StatusJoining           Status = "joining"
	StatusOnline            Status = "online"
	StatusNotFound          Status = "not-found"
	StatusDeniedTemporarily Status = "denied-temporarily"
	StatusDeniedPermanently Status = "denied-permanently"
	StatusLoginRequired     Status = "login-required"
)

// AuthStatus is the state of the user's login as reported by the host.
type AuthStatus string

const (
	AuthUnknown       AuthStatus = "unknown"
	AuthPending       AuthStatus = "pending"
	AuthAnonymous     AuthStatus = "anonymous"
	AuthAuthenticated AuthStatus = "authenticated"
)

// Sender delivers a message to the server. It must not block on the network
// for long; failures are treated as a lost connection.
type Sender interface {
	Send(msg protocol.Message) error
}

// Snapshot is the part of a session that survives a restart.
type Snapshot struct {
	BoardID   string            `json:"boardId"`
	Shadow    *board.Board      `json:"shadow"`
	Sent      []board.Event     `json:"sent,omitempty"`
	SentAckID string            `json:"sentAckId,omitempty"`
	Queue     []board.Event     `json:"queue,omitempty"`
	Access    board.AccessLevel `json:"access"`
}

// Replica persists snapshots between runs.
type Replica interface {
	Load(boardID string) (Snapshot, bool, error)
	Save(s Snapshot) error
}

// View is what the host renders.
type View struct {
	Board     *board.Board
	Status    Status
	Access    board.AccessLevel
	CanUndo   bool
	CanRedo   bool
	QueueSize int
	Cursors   map[string]board.Point
}

type Config struct {
	BoardID string
	User    board.UserInfo
	Sender  Sender
	// Replica is optional.
	Replica Replica
	// OnChange is called on the Run goroutine after every handled input.
	OnChange  func(View)
	UndoLimit int
	Logger    *slog.Logger
}

type Session struct {
	cfg    Config
	logger *slog.Logger
	inbox  chan input
	done   chan struct{}

	mu   sync.RWMutex
	view View

	status    Status
	auth      AuthStatus
	connected bool
	access    board.AccessLevel

	shadow    *board.Board
	board     *board.Board
	queue     []board.Event
	sent      []board.Event
	sentAckID string
	undo      *board.UndoStack
	cursors   map[string]board.Point

	// resume is the shadow being rebuilt from board.init.diff chunks.
	resume          *board.Board
	resumeConfirmed bool
}

type input any

type (
	dispatchInput  struct{ ev board.Event }
	undoInput      struct{}
	redoInput      struct{}
	connectedInput struct{ connected bool }
	authInput      struct{ status AuthStatus }
	deliverInput   struct{ msg protocol.Message }
)

func New(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		cfg:     cfg,
		logger:  logger.With("board", cfg.BoardID),
		inbox:   make(chan input, 64),
		done:    make(chan struct{}),
		status:  StatusNone,
		auth:    AuthUnknown,
		access:  board.AccessNone,
		undo:    board.NewUndoStack(cfg.UndoLimit),
		cursors: map[string]board.Point{},
	}
	s.restore()
	s.publish()
	return s
}

// Run consumes inputs until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in := <-s.inbox:
			s.handle(in)
		}
	}
}

func (s *Session) post(in input) {
	select {
	case s.inbox <- in:
	case <-s.done:
	}
}

// Dispatch submits a locally originated event.
func (s *Session) Dispatch(ev board.Event) { s.post(dispatchInput{ev: ev}) }

func (s *Session) Undo() { s.post(undoInput{}) }

func (s *Session) Redo() { s.post(redoInput{}) }

// SetConnected reports a transport boundary.
func (s *Session) SetConnected(connected bool) { s.post(connectedInput{connected: connected}) }

func (s *Session) SetAuth(status AuthStatus) { s.post(authInput{status: status}) }

// Deliver hands a server message to the session.
func (s *Session) Deliver(msg protocol.Message) { s.post(deliverInput{msg: msg}) }

// State returns the latest published view.
func (s *Session) State() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// QueueSize is the number of local events not yet confirmed.
func (s *Session) QueueSize() int {
	return s.State().QueueSize
}

func (s *Session) handle(in input) {
	switch in := in.(type) {
	case dispatchInput:
		s.dispatch(in.ev)
	case undoInput:
		s.step(s.undo.TopUndo, s.undo.PopUndo, s.undo.PushRedo)
	case redoInput:
		s.step(s.undo.TopRedo, s.undo.PopRedo, s.undo.PushUndo)
	case connectedInput:
		s.setConnected(in.connected)
	case authInput:
		s.setAuth(in.status)
	case deliverInput:
		s.deliver(in.msg)
	}
	s.persist()
	s.publish()
}

func (s *Session) publish() {
	cursors := make(map[string]board.Point, len(s.cursors))
	for id, p := range s.cursors {
		cursors[id] = p
	}
	v := View{
		Board:     s.board,
		Status:    s.status,
		Access:    s.access,
		CanUndo:   s.undo.CanUndo(),
		CanRedo:   s.undo.CanRedo(),
		QueueSize: len(s.queue) + len(s.sent),
		Cursors:   cursors,
	}
	s.mu.Lock()
	s.view = v
	s.mu.Unlock()
	if s.cfg.OnChange != nil {
		s.cfg.OnChange(v)
	}
}

func (s *Session) send(msg protocol.Message) bool {
	if s.cfg.Sender == nil {
		return false
	}
	if err := s.cfg.Sender.Send(msg); err != nil {
		s.logger.Warn("send failed", "kind", msg.Kind(), "error", err)
		return false
	}
	return true
}

// ---- local edits ----

func (s *Session) allowed(a board.Action) bool {
	if s.board == nil {
		s.logger.Debug("edit ignored, board not loaded", "action", a)
		return false
	}
	if !s.access.Allows(board.RequiredLevel(a)) {
		s.logger.Debug("edit ignored, insufficient access", "action", a, "access", s.access)
		return false
	}
	return true
}

func (s *Session) dispatch(ev board.Event) {
	if ev.BoardID == "" {
		ev.BoardID = s.cfg.BoardID
	}
	if !s.allowed(ev.Action) {
		return
	}
	next, inv, err := board.Apply(s.board, ev)
	if err != nil {
		s.logger.Warn("local edit does not apply, resyncing", "action", ev.Action, "error", err)
		s.resync()
		return
	}
	s.board = next
	if inv != nil {
		s.undo.Record(*inv)
	}
	s.enqueue(ev)
	s.flush()
}

// step replays the top of one stack and pushes its inverse onto the other.
// A step the current access level does not allow stays on its stack.
func (s *Session) step(top, pop func() (board.Event, bool), push func(board.Event)) {
	ev, ok := top()
	if !ok || !s.allowed(ev.Action) {
		return
	}
	pop()
	next, inv, err := board.Apply(s.board, ev)
	if err != nil {
		s.logger.Warn("undo step does not apply, resyncing", "action", ev.Action, "error", err)
		s.resync()
		return
	}
	s.board = next
	if inv != nil {
		push(*inv)
	}
	s.enqueue(ev)
	s.flush()
}

func (s *Session) enqueue(ev board.Event) {
	if n := len(s.queue); n > 0 {
		if merged, ok := board.Fold(s.queue[n-1], ev); ok {
			s.queue[n-1] = merged
			return
		}
	}
	s.queue = append(s.queue, ev)
}

// flush sends the whole queue as one batch when nothing is in flight.
func (s *Session) flush() {
	if s.status != StatusOnline || !s.connected || len(s.sent) > 0 || len(s.queue) == 0 {
		return
	}
	s.sent, s.queue = s.queue, nil
	s.sentAckID = uuid.NewString()
	s.send(protocol.Events{BoardID: s.cfg.BoardID, AckID: s.sentAckID, Events: s.sent})
}

// rebase recomputes the local board from the shadow.
func (s *Session) rebase() error {
	b, err := board.Replay(s.shadow, s.sent)
	if err != nil {
		return err
	}
	b, err = board.Replay(b, s.queue)
	if err != nil {
		return err
	}
	s.board = b
	return nil
}

// resync drops every unconfirmed local change and joins again at the
// shadow serial.
func (s *Session) resync() {
	s.queue, s.sent, s.sentAckID = nil, nil, ""
	s.resume = nil
	s.undo.Clear()
	s.board = s.shadow
	s.status = StatusNone
	s.join()
}

// ---- connectivity ----

func (s *Session) setConnected(connected bool) {
	s.connected = connected
	if !connected {
		s.resume = nil
		switch s.status {
		case StatusJoining, StatusOnline, StatusNone:
			s.status = StatusOffline
		}
		return
	}
	s.join()
}

func (s *Session) setAuth(status AuthStatus) {
	prev := s.auth
	s.auth = status
	switch s.status {
	case StatusDeniedTemporarily, StatusLoginRequired:
		if status == AuthAuthenticated && prev != AuthAuthenticated {
			s.status = StatusNone
		}
	}
	s.join()
}

// join starts a join when connectivity and login allow it. Statuses that
// need user action are left alone.
func (s *Session) join() {
	switch s.status {
	case StatusJoining, StatusOnline, StatusNotFound, StatusDeniedPermanently,
		StatusDeniedTemporarily, StatusLoginRequired:
		return
	}
	if s.auth == AuthUnknown || s.auth == AuthPending {
		s.status = StatusLoading
		return
	}
	if !s.connected {
		s.status = StatusOffline
		return
	}
	var at int64
	if s.shadow != nil {
		at = s.shadow.Serial
	}
	s.status = StatusJoining
	if !s.send(protocol.Join{BoardID: s.cfg.BoardID, InitAtSerial: at}) {
		s.status = StatusOffline
	}
}

// ---- server messages ----

func (s *Session) deliver(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Init:
		s.onInit(m)
	case protocol.InitDiff:
		s.onInitDiff(m)
	case protocol.JoinDenied:
		s.onDenied(m)
	case protocol.Entry:
		s.onEntry(m.HistoryEntry)
	case protocol.Ack:
		s.onAck(m)
	case protocol.Error:
		s.onError(m)
	case protocol.Ping:
		s.send(protocol.Pong{})
	case protocol.Pong:
	default:
		s.logger.Warn("unexpected message", "kind", msg.Kind())
	}
}

func (s *Session) onInit(m protocol.Init) {
	if s.status != StatusJoining {
		s.logger.Warn("board.init outside a join", "status", s.status)
		return
	}
	if m.Board == nil || m.Board.ID != s.cfg.BoardID {
		s.logger.Error("board.init for another board")
		return
	}
	if len(s.sent) > 0 {
		// A full snapshot cannot tell whether the batch made it.
		s.logger.Warn("dropping unconfirmed batch on full init", "events", len(s.sent), "ackId", s.sentAckID)
		s.sent, s.sentAckID = nil, ""
	}
	s.shadow = m.Board
	s.access = m.Access
	if err := s.rebase(); err != nil {
		s.logger.Warn("queued edits do not apply to fresh board, dropping", "error", err)
		s.queue = nil
		s.undo.Clear()
		s.board = s.shadow
	}
	s.status = StatusOnline
	s.flush()
}

func (s *Session) onInitDiff(m protocol.InitDiff) {
	if s.status != StatusJoining {
		s.logger.Warn("board.init.diff outside a join", "status", s.status)
		return
	}
	if m.First {
		if s.shadow == nil || m.Attributes.ID != s.cfg.BoardID || m.InitAtSerial != s.shadow.Serial {
			s.logger.Warn("diff does not start at shadow, joining fresh", "initAtSerial", m.InitAtSerial)
			s.freshJoin()
			return
		}
		s.resume = s.shadow
		s.resumeConfirmed = false
	}
	if s.resume == nil {
		s.logger.Warn("diff chunk without a first chunk")
		return
	}
	for _, e := range m.RecentEvents {
		next, _, err := board.ApplyEntry(s.resume, e, true)
		if err != nil {
			s.logger.Warn("diff does not replay, joining fresh", "serial", e.Serial, "error", err)
			s.freshJoin()
			return
		}
		s.resume = next
		if s.sentAckID != "" && e.AckID == s.sentAckID {
			s.resumeConfirmed = true
		}
	}
	if !m.Last {
		return
	}

	s.shadow, s.resume = s.resume, nil
	s.access = m.Access
	if len(s.sent) > 0 {
		if s.resumeConfirmed {
			s.sent = nil
		} else {
			s.queue = append(s.sent, s.queue...)
			s.sent = nil
		}
		s.sentAckID = ""
	}
	if err := s.rebase(); err != nil {
		s.logger.Warn("local edits do not apply after resume, resyncing", "error", err)
		s.resync()
		return
	}
	s.status = StatusOnline
	s.flush()
}

// freshJoin gives up on the shadow as well and asks for a full snapshot.
func (s *Session) freshJoin() {
	s.shadow = nil
	s.resync()
}

func (s *Session) onDenied(m protocol.JoinDenied) {
	if s.status != StatusJoining {
		return
	}
	switch m.Reason {
	case protocol.DenyNotFound:
		s.status = StatusNotFound
	case protocol.DenyTemporarily:
		s.status = StatusDeniedTemporarily
	case protocol.DenyLoginRequired:
		s.status = StatusLoginRequired
	default:
		s.status = StatusDeniedPermanently
	}
	s.access = board.AccessNone
	s.logger.Info("join denied", "reason", m.Reason)
}

func (s *Session) onEntry(e board.HistoryEntry) {
	if s.status != StatusOnline {
		return
	}
	if !e.Action.Persistent() {
		if e.Action == board.ActionCursor && e.Cursor != nil && e.User.ID != s.cfg.User.ID {
			s.cursors[e.User.ID] = *e.Cursor
		}
		return
	}
	shadow, _, err := board.ApplyEntry(s.shadow, e, true)
	if err != nil {
		s.logger.Warn("remote entry does not apply to shadow, resyncing", "serial", e.Serial, "error", err)
		s.resync()
		return
	}
	s.shadow = shadow
	if err := s.rebase(); err != nil {
		s.logger.Warn("local edits conflict with remote entry, resyncing", "serial", e.Serial, "error", err)
		s.resync()
	}
}

func (s *Session) onAck(m protocol.Ack) {
	if len(s.sent) == 0 {
		return
	}
	if m.AckID != "" && m.AckID != s.sentAckID {
		s.logger.Warn("ack for another batch", "ackId", m.AckID, "sentAckId", s.sentAckID)
		return
	}
	serial, ok := m.Serials[s.cfg.BoardID]
	if !ok {
		s.logger.Warn("ack without serial for board")
		return
	}
	want := s.shadow.Serial
	for _, ev := range s.sent {
		if ev.Action.Persistent() {
			want++
		}
	}
	if serial != want {
		s.logger.Warn("ack serial out of sequence, resyncing", "serial", serial, "expected", want)
		s.resync()
		return
	}

	if len(s.queue) == 0 {
		s.shadow = s.board.WithSerial(serial)
	} else {
		b, err := board.Replay(s.shadow, s.sent)
		if err != nil {
			s.resync()
			return
		}
		s.shadow = b.WithSerial(serial)
	}
	s.board = s.board.WithSerial(serial)
	s.sent, s.sentAckID = nil, ""
	s.flush()
}

func (s *Session) onError(m protocol.Error) {
	s.logger.Warn("server error", "message", m.Message, "ackId", m.AckID)
	if m.AckID != "" && m.AckID == s.sentAckID {
		s.resync()
	}
}

// ---- replica ----

func (s *Session) restore() {
	if s.cfg.Replica == nil {
		return
	}
	snap, ok, err := s.cfg.Replica.Load(s.cfg.BoardID)
	if err != nil {
		s.logger.Warn("replica load failed", "error", err)
		return
	}
	if !ok || snap.Shadow == nil {
		return
	}
	s.shadow = snap.Shadow
	s.sent, s.sentAckID = snap.Sent, snap.SentAckID
	s.queue = snap.Queue
	s.access = snap.Access
	if err := s.rebase(); err != nil {
		s.logger.Warn("replica edits do not apply, dropping", "error", err)
		s.sent, s.sentAckID, s.queue = nil, "", nil
		s.board = s.shadow
	}
}

func (s *Session) persist() {
	if s.cfg.Replica == nil || s.shadow == nil {
		return
	}
	err := s.cfg.Replica.Save(Snapshot{
		BoardID:   s.cfg.BoardID,
		Shadow:    s.shadow,
		Sent:      s.sent,
		SentAckID: s.sentAckID,
		Queue:     s.queue,
		Access:    s.access,
	})
	if err != nil {
		s.logger.Warn("replica save failed", "error", err)
	}
}
