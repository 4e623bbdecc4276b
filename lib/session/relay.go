package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/quizparty/relay/lib/protocol"
)

// State is the connection lifecycle state of the relay.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateInRoom
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateInRoom:
		return "in_room"
	default:
		return "disconnected"
	}
}

var (
	ErrNotConnected       = errors.New("not connected to a room")
	ErrConnectionInFlight = errors.New("a connection attempt is already in flight")
	ErrRelayStopped       = errors.New("relay stopped")
)

const (
	dialAttempts   = 3
	dialRetryDelay = 250 * time.Millisecond
	dialTimeout    = 10 * time.Second
	pushTimeout    = 5 * time.Second
	saveWindow     = 5 * time.Second
)

// Pusher delivers messages to an attached tab client. Push is only ever
// called from the relay's event loop, so implementations need no internal
// ordering.
type Pusher interface {
	Push(data []byte) error
}

// SaveStore persists confirmed room saves under user-chosen names.
type SaveStore interface {
	Put(name string, data []byte) error
}

// Status is the relay's externally visible condition.
type Status struct {
	State        string `json:"state"`
	RoomCode     string `json:"room_code,omitempty"`
	Username     string `json:"username,omitempty"`
	Host         bool   `json:"host"`
	Participants int    `json:"participants"`
	TabAttached  bool   `json:"tab_attached"`
}

// attachment is the current subscriber slot. A new attach replaces it; the
// superseded tab's pushes stop and its submissions are ignored, matching a
// page navigation.
type attachment struct {
	id   uuid.UUID
	push Pusher
}

// pendingSave tracks one save_room round trip. The reply must arrive within
// the save window; the snapshot is then held until a save name is known.
type pendingSave struct {
	seq  uint64
	data []byte
}

// Relay owns the single upstream connection and the canonical session state.
// All state lives on the event loop goroutine; public methods communicate
// with it over one ordered event stream, which is what gives the reducer its
// run-to-completion, strict-arrival-order semantics.
type Relay struct {
	log         *slog.Logger
	upstreamURL string
	saves       SaveStore
	saveWindow  time.Duration

	events chan any
	done   chan struct{}

	// Everything below is owned by the event loop.
	sess       *Session
	state      State
	conn       *websocket.Conn
	connGen    uint64
	connCtx    context.Context
	connCancel context.CancelFunc
	initType   string
	tab        *attachment
	save       *pendingSave
	saveSeq    uint64
}

type (
	evAttach struct {
		id   uuid.UUID
		push Pusher
	}
	evDetach struct {
		id uuid.UUID
	}
	evTabMessage struct {
		id   uuid.UUID
		data []byte
	}
	evDialResult struct {
		gen  uint64
		conn *websocket.Conn
		err  error
	}
	evServerMessage struct {
		gen  uint64
		data []byte
	}
	evServerClosed struct {
		gen uint64
		err error
	}
	evStatus struct {
		reply chan Status
	}
	evSaveTimeout struct {
		seq uint64
	}
	evOptionsChanged struct {
		data []byte
	}
)

// NewRelay creates a relay for the given upstream room server. saves may be
// nil, in which case save_room confirmations are only forwarded to the tab.
func NewRelay(upstreamURL string, saves SaveStore, log *slog.Logger) *Relay {
	return &Relay{
		log:         log,
		upstreamURL: upstreamURL,
		saves:       saves,
		saveWindow:  saveWindow,
		events:      make(chan any, 64),
		done:        make(chan struct{}),
		sess:        NewSession(),
		state:       StateDisconnected,
	}
}

// Run executes the event loop until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			r.shutdown(ctx)
			return ctx.Err()
		case ev := <-r.events:
			r.handle(ctx, ev)
		}
	}
}

func (r *Relay) post(ev any) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

// Attach registers a tab client as the current subscriber, replacing any
// previous one, and returns the attachment ID the caller must use for
// Submit/Detach. If the relay is in a room, the loop replays a full state
// snapshot to the new tab before any further events.
func (r *Relay) Attach(p Pusher) uuid.UUID {
	id := uuid.New()
	r.post(evAttach{id: id, push: p})
	return id
}

// Detach drops the tab attachment. Detaching a superseded attachment is a
// no-op.
func (r *Relay) Detach(id uuid.UUID) {
	r.post(evDetach{id: id})
}

// Submit delivers one local-channel message from the tab client.
func (r *Relay) Submit(id uuid.UUID, data []byte) {
	r.post(evTabMessage{id: id, data: data})
}

// Status reports the relay's current condition.
func (r *Relay) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	r.post(evStatus{reply: reply})
	select {
	case st := <-reply:
		return st, nil
	case <-r.done:
		return Status{}, ErrRelayStopped
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// NotifyOptionsChanged pushes an optionsChanged event to the attached tab.
func (r *Relay) NotifyOptionsChanged(options json.RawMessage) {
	r.post(evOptionsChanged{data: protocol.Marshal(map[string]any{
		"type":    protocol.TypeOptionsChanged,
		"options": options,
	})})
}

func (r *Relay) handle(ctx context.Context, ev any) {
	switch ev := ev.(type) {
	case evAttach:
		r.tab = &attachment{id: ev.id, push: ev.push}
		if r.state == StateInRoom {
			r.pushToTab(protocol.Marshal(r.sess.Snapshot(true)))
		}

	case evDetach:
		if r.tab == nil || r.tab.id != ev.id {
			return
		}
		r.tab = nil
		// A tab that vanished mid-round leaves the live scoreboard; tell the
		// server so it can mark the player absent.
		if r.state == StateInRoom && r.sess.LivePlay {
			r.sess.LivePlay = false
			r.sendUpstream(protocol.Marshal(map[string]string{"type": protocol.TypePageDisconnect}))
		}

	case evTabMessage:
		if r.tab == nil || r.tab.id != ev.id {
			return
		}
		r.handleTabMessage(ctx, ev.data)

	case evDialResult:
		r.handleDialResult(ctx, ev)

	case evServerMessage:
		if ev.gen != r.connGen {
			return
		}
		r.handleServerMessage(ev.data)

	case evServerClosed:
		if ev.gen != r.connGen || r.state == StateDisconnected {
			return
		}
		r.log.Info("[relay] upstream connection closed", "err", ev.err)
		r.pushToTab(protocol.Marshal(map[string]string{"type": protocol.TypeConnectionClosed}))
		r.teardown()

	case evStatus:
		ev.reply <- Status{
			State:        r.state.String(),
			RoomCode:     r.sess.RoomCode,
			Username:     r.sess.SelfUsername,
			Host:         r.sess.IsHost,
			Participants: len(r.sess.Scores),
			TabAttached:  r.tab != nil,
		}

	case evSaveTimeout:
		// The reply window for save_room elapsed. The pending save name is
		// kept: a later retry reuses it.
		if r.save != nil && r.save.seq == ev.seq && r.save.data == nil {
			r.save = nil
			r.pushError("save_room timed out")
		}

	case evOptionsChanged:
		r.pushToTab(ev.data)
	}
}

func (r *Relay) handleTabMessage(ctx context.Context, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		r.log.Warn("[relay] undecodable tab message", "err", err)
		r.pushError("malformed message")
		return
	}

	switch env.Type {
	case protocol.TypeConnectionStatus:
		var query protocol.ConnectionStatusQuery
		_ = env.Payload(&query)
		r.pushToTab(protocol.Marshal(r.sess.Snapshot(r.state == StateInRoom)))
		if r.state == StateInRoom && query.URL != "" {
			r.sendUpstream(protocol.Marshal(map[string]string{
				"type": protocol.TypeURLUpdate,
				"url":  query.URL,
			}))
		}

	case protocol.TypeStartConnection:
		r.startConnection(ctx, env)

	case protocol.TypeRemoveSuggestion:
		var sug protocol.Suggestion
		_ = env.Payload(&sug)
		r.sess.removeSuggestion(sug)

	case protocol.TypeSaveName:
		var msg protocol.SaveName
		_ = env.Payload(&msg)
		if msg.SaveName == "" {
			// User cancelled the naming prompt: the save attempt is over.
			r.sess.PendingSaveName = ""
			r.save = nil
			return
		}
		r.sess.PendingSaveName = msg.SaveName
		if r.save != nil && r.save.data != nil {
			r.persistSave(r.save.data)
			r.save = nil
		}

	case protocol.TypeClearVoteData:
		r.sess.ActiveVote = nil
		r.sess.HasVotedLocally = false

	case protocol.TypeSaveRoom:
		if r.state != StateInRoom {
			r.pushError(ErrNotConnected.Error())
			return
		}
		r.saveSeq++
		r.save = &pendingSave{seq: r.saveSeq}
		seq := r.saveSeq
		time.AfterFunc(r.saveWindow, func() { r.post(evSaveTimeout{seq: seq}) })
		r.sendUpstream(data)

	case protocol.TypeLeaveRoom:
		if r.state == StateDisconnected {
			return
		}
		// Leaving is fire-and-forget: the local reset happens immediately,
		// without waiting for the server.
		r.sendUpstream(data)
		r.teardown()

	default:
		if r.state != StateInRoom {
			r.pushError(ErrNotConnected.Error())
			return
		}
		r.sess.ApplyLocalAction(env)
		r.sendUpstream(data)
	}
}

// startConnection begins a create/join/load handshake. Only one attempt may
// be in flight; starting a new connection while in a room abandons the old
// one without notice to the server, matching a user switching rooms.
func (r *Relay) startConnection(ctx context.Context, env protocol.Envelope) {
	if r.state == StateConnecting {
		r.pushError(ErrConnectionInFlight.Error())
		return
	}
	var msg protocol.StartConnection
	if err := env.Payload(&msg); err != nil || len(msg.InitialMessage) == 0 {
		r.pushError("startConnection requires an initialMessage")
		return
	}
	var initial protocol.InitialMessage
	if err := json.Unmarshal(msg.InitialMessage, &initial); err != nil {
		r.pushError("malformed initialMessage")
		return
	}
	switch initial.Type {
	case protocol.TypeCreateRoom, protocol.TypeJoinRoom, protocol.TypeLoadRoom:
	default:
		r.pushError(fmt.Sprintf("unsupported initiation type %q", initial.Type))
		return
	}
	if initial.Username == "" {
		r.pushError("username required")
		return
	}

	if r.state == StateInRoom {
		r.closeConn(websocket.StatusNormalClosure, "joining another room")
		r.sess.Reset()
	}

	r.state = StateConnecting
	r.initType = initial.Type
	r.sess.SelfUsername = initial.Username
	r.sess.RoomCode = initial.Code

	r.connGen++
	gen := r.connGen
	r.log.Info("[relay] connecting to room server", "url", r.upstreamURL, "initiation", initial.Type)
	go r.dial(ctx, gen, append([]byte(nil), msg.InitialMessage...))
}

// dial opens the upstream transport and sends exactly one initiation payload.
// The dial itself is retried a few times; the session level never reconnects
// on its own once established.
func (r *Relay) dial(ctx context.Context, gen uint64, initial []byte) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	var conn *websocket.Conn
	err := retry.Do(
		func() error {
			c, _, err := websocket.Dial(dialCtx, r.upstreamURL, nil)
			if err != nil {
				return err
			}
			conn = c
			return nil
		},
		retry.Attempts(dialAttempts),
		retry.Delay(dialRetryDelay),
		retry.Context(dialCtx),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		if werr := conn.Write(dialCtx, websocket.MessageText, initial); werr != nil {
			conn.Close(websocket.StatusInternalError, "initiation failed")
			conn, err = nil, fmt.Errorf("send initiation: %w", werr)
		}
	}
	r.post(evDialResult{gen: gen, conn: conn, err: err})
}

func (r *Relay) handleDialResult(ctx context.Context, ev evDialResult) {
	if ev.gen != r.connGen || r.state != StateConnecting {
		// A stale attempt: the user moved on. Drop the transport quietly.
		if ev.conn != nil {
			ev.conn.Close(websocket.StatusNormalClosure, "superseded")
		}
		return
	}
	if ev.err != nil {
		r.log.Error("[relay] dial failed", "err", ev.err)
		r.pushError(fmt.Sprintf("could not reach room server: %v", ev.err))
		r.state = StateDisconnected
		r.sess.Reset()
		return
	}

	r.conn = ev.conn
	r.connCtx, r.connCancel = context.WithCancel(ctx)
	go r.readPump(r.connCtx, ev.gen, ev.conn)
}

// readPump feeds inbound server messages into the event stream in strict
// receipt order.
func (r *Relay) readPump(ctx context.Context, gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			r.post(evServerClosed{gen: gen, err: err})
			return
		}
		r.post(evServerMessage{gen: gen, data: data})
	}
}

func (r *Relay) handleServerMessage(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		r.log.Warn("[relay] undecodable server message", "err", err)
		r.pushToTab(data)
		return
	}

	if r.state == StateConnecting {
		if env.Type != r.initType {
			// Not the handshake reply; forward and keep waiting.
			r.pushToTab(data)
			return
		}
		if r.sess.applyHandshakeReply(r.initType, env) {
			r.state = StateInRoom
			r.log.Info("[relay] joined room", "room_code", r.sess.RoomCode, "username", r.sess.SelfUsername)
			r.pushToTab(data)
			return
		}
		// Rejected handshake (username taken, invalid code, ...): surface
		// the reason and return to Disconnected so the tab can redisplay its
		// entry forms.
		r.log.Info("[relay] handshake rejected", "initiation", r.initType)
		r.pushToTab(data)
		r.teardown()
		return
	}

	if r.state != StateInRoom {
		return
	}

	eff := r.sess.ApplyServerMessage(env)
	if !eff.DropForward {
		r.pushToTab(data)
	}

	if eff.SaveData != nil {
		r.handleSaveConfirmation(eff.SaveData)
	}
	if eff.Teardown {
		r.teardown()
	}
}

func (r *Relay) handleSaveConfirmation(saveData []byte) {
	if r.save == nil {
		return
	}
	if r.sess.PendingSaveName == "" {
		// No name yet; hold the snapshot until the tab reports one.
		r.save.data = saveData
		return
	}
	r.persistSave(saveData)
	r.save = nil
}

func (r *Relay) persistSave(saveData []byte) {
	if r.saves == nil {
		return
	}
	name := r.sess.PendingSaveName
	if err := r.saves.Put(name, saveData); err != nil {
		r.log.Error("[relay] failed to persist save", "name", name, "err", err)
		r.pushError(fmt.Sprintf("save failed: %v", err))
		return
	}
	r.log.Info("[relay] room saved", "name", name)
}

// teardown closes the transport and resets the session. The reset is atomic
// from the tab's point of view: it happens within a single event.
func (r *Relay) teardown() {
	r.closeConn(websocket.StatusNormalClosure, "")
	r.state = StateDisconnected
	r.initType = ""
	r.save = nil
	r.sess.Reset()
}

func (r *Relay) closeConn(code websocket.StatusCode, reason string) {
	if r.connCancel != nil {
		r.connCancel()
		r.connCancel = nil
	}
	if r.conn != nil {
		r.conn.Close(code, reason)
		r.conn = nil
	}
	r.connGen++
}

func (r *Relay) shutdown(ctx context.Context) {
	if r.state == StateInRoom && r.sess.LivePlay && r.conn != nil {
		// Best effort: the round is live, let the server mark us absent.
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = r.conn.Write(writeCtx, websocket.MessageText,
			protocol.Marshal(map[string]string{"type": protocol.TypePageDisconnect}))
	}
	r.closeConn(websocket.StatusGoingAway, "relay shutting down")
}

func (r *Relay) sendUpstream(data []byte) {
	if r.conn == nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(r.connCtx, pushTimeout)
	defer cancel()
	if err := r.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		r.log.Warn("[relay] upstream write failed", "err", err)
	}
}

func (r *Relay) pushToTab(data []byte) {
	if r.tab == nil {
		return
	}
	if err := r.tab.push.Push(data); err != nil {
		r.log.Debug("[relay] failed to push to tab", "err", err)
	}
}

func (r *Relay) pushError(reason string) {
	r.pushToTab(protocol.Marshal(protocol.ErrorMessage{Type: protocol.TypeError, Error: reason}))
}
