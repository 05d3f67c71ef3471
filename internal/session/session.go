// Package session owns the local view of one match and reconciles it with
// the updates pushed by the remote authority.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/connect4/client/internal/game"
	"github.com/connect4/client/internal/logger"
	"github.com/connect4/client/internal/protocol"
	"github.com/connect4/client/internal/pubsub"
	"github.com/connect4/client/internal/stats"
	"github.com/connect4/client/internal/ws"
)

const (
	DefaultRetryDelay = 3 * time.Second
	submitTimeout     = 10 * time.Second

	// TopicState is published with a State copy after every change.
	TopicState = "session:state"
)

var ErrInvalidMove = errors.New("invalid move")

// MoveError explains why RequestMove refused a column.
type MoveError struct {
	Column int
	Reason string
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("invalid move in column %d: %s", e.Column, e.Reason)
}

func (e *MoveError) Unwrap() error { return ErrInvalidMove }

// Channel is the connection a session talks through. *ws.Channel
// implements it.
type Channel interface {
	Connect(ctx context.Context, sessionID string) error
	Send(msgType string, payload interface{}) error
	Subscribe(eventType string, handler pubsub.Handler) pubsub.Unsubscribe
	State() ws.ConnectionState
	Close() error
}

// Options configures a Session.
type Options struct {
	GameID     string // generated with NewGameID when empty
	PlayerName string
	GameType   string // reported with statistics, defaults to multiplayer
	Channel    Channel
	Submitter  stats.Submitter // optional
	RetryDelay time.Duration
	Logger     *logger.Logger
	Now        func() time.Time
}

// Session is the state machine for one match.
type Session struct {
	opts Options
	ch   Channel
	log  *logger.Logger
	bus  *pubsub.Bus

	// pubMu is held from commit through publish so subscribers see states
	// one at a time, in commit order. Lock order: pubMu, then mu.
	pubMu sync.Mutex

	mu         sync.Mutex
	state      State
	submitted  bool
	gen        uint64
	retryTimer *time.Timer
	unsubs     []pubsub.Unsubscribe
	closed     bool

	submissions sync.WaitGroup
}

// New creates a session in the waiting state. Nothing is sent until Start.
func New(opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.GameID == "" {
		opts.GameID = NewGameID(opts.Now())
	}
	if opts.GameType == "" {
		opts.GameType = protocol.GameTypeMultiplayer
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = logger.WithComponent("session")
	}
	s := &Session{
		opts:  opts,
		ch:    opts.Channel,
		log:   opts.Logger,
		bus:   pubsub.NewBus(),
		state: initialState(opts.GameID),
	}
	s.state.Connection = s.ch.State()
	return s
}

// Start wires the session to its channel and connects. The joinGame
// message goes out once the channel reports it is open. A connection error
// is returned and also recorded in State.Error; a retry is scheduled unless
// the channel has given up.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.unsubs == nil {
		s.unsubs = []pubsub.Unsubscribe{
			s.ch.Subscribe(protocol.TypeGameUpdate, s.onGameUpdate),
			s.ch.Subscribe(protocol.TypeOpponentDisconnected, func(interface{}) { s.HandleOpponentDisconnected() }),
			s.ch.Subscribe(ws.EventStateChange, s.onConnectionState),
			s.ch.Subscribe(ws.EventConnectionFailed, s.onConnectionFailed),
			s.ch.Subscribe(protocol.TypeError, s.onAuthorityError),
		}
	}
	s.mu.Unlock()
	return s.Connect(ctx)
}

// Connect (re)connects the channel for the current game id.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ws.ErrClosed
	}
	gen, id := s.gen, s.state.GameID
	s.mu.Unlock()
	return s.connect(ctx, gen, id)
}

func (s *Session) connect(ctx context.Context, gen uint64, id string) error {
	err := s.ch.Connect(ctx, id)
	if err == nil {
		return nil
	}

	failed := s.ch.State().Kind == ws.Failed
	msg := "connection error: " + err.Error()
	if failed {
		msg = "connection failed: " + ws.ErrMaxAttemptsExceeded.Error()
	}
	s.log.Warn("connect failed", map[string]interface{}{"gameId": id, "error": err.Error(), "persistent": failed})

	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return err
	}
	next := s.state.clone()
	next.Error = msg
	if !failed && s.retryTimer == nil {
		s.retryTimer = time.AfterFunc(s.opts.RetryDelay, func() { s.retry(gen) })
	}
	snap := s.commitLocked(next)
	s.mu.Unlock()

	s.publish(snap)
	return err
}

func (s *Session) retry(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}
	s.retryTimer = nil
	id := s.state.GameID
	s.mu.Unlock()

	switch s.ch.State().Kind {
	case ws.Failed, ws.Open:
		return
	}
	s.log.Info("retrying connection", map[string]interface{}{"gameId": id})
	_ = s.connect(context.Background(), gen, id)
}

func (s *Session) join() {
	s.mu.Lock()
	payload := protocol.JoinGame{GameID: s.state.GameID, PlayerName: s.opts.PlayerName}
	s.mu.Unlock()
	if err := s.ch.Send(protocol.TypeJoinGame, payload); err != nil {
		s.log.Warn("could not join game", map[string]interface{}{"gameId": payload.GameID, "error": err.Error()})
	}
}

func (s *Session) onConnectionState(payload interface{}) {
	cs, ok := payload.(ws.ConnectionState)
	if !ok {
		return
	}
	s.pubMu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.pubMu.Unlock()
		return
	}
	next := s.state.clone()
	next.Connection = cs
	if cs.Kind == ws.Open {
		next.Error = ""
	}
	snap := s.commitLocked(next)
	s.mu.Unlock()

	s.publish(snap)
	s.pubMu.Unlock()
	if cs.Kind == ws.Open {
		s.join()
	}
}

func (s *Session) onConnectionFailed(payload interface{}) {
	reason := ws.ErrMaxAttemptsExceeded.Error()
	if f, ok := payload.(ws.ConnectionFailed); ok && f.Reason != "" {
		reason = f.Reason
	}
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	next := s.state.clone()
	next.Error = "connection failed: " + reason
	snap := s.commitLocked(next)
	s.mu.Unlock()

	s.log.Error("connection failed permanently", map[string]interface{}{"gameId": snap.GameID, "reason": reason})
	s.publish(snap)
}

func (s *Session) onGameUpdate(payload interface{}) {
	raw, ok := payload.(json.RawMessage)
	if !ok {
		return
	}
	u, err := protocol.DecodeGameUpdate(raw)
	if err != nil {
		s.log.Error("dropping malformed gameUpdate", err)
		return
	}
	s.ApplyRemoteUpdate(u)
}

func (s *Session) onAuthorityError(payload interface{}) {
	raw, _ := payload.(json.RawMessage)
	var e protocol.Error
	if err := json.Unmarshal(raw, &e); err != nil {
		return
	}
	s.log.Warn("request refused by authority", map[string]interface{}{"message": e.Message})
}

// ValidateMove checks a column against a state without side effects.
func ValidateMove(st State, col int) error {
	switch {
	case st.Status != StatusPlaying:
		return &MoveError{Column: col, Reason: "game is " + string(st.Status)}
	case st.LocalPlayer == nil || st.CurrentPlayer != *st.LocalPlayer:
		return &MoveError{Column: col, Reason: "not your turn"}
	case st.Board == nil || !game.ValidColumn(col, st.Board.Cols()):
		return &MoveError{Column: col, Reason: "column out of range"}
	}
	if _, ok := st.Board.AvailableRow(col); !ok {
		return &MoveError{Column: col, Reason: "column is full"}
	}
	return nil
}

// RequestMove asks the authority to drop a piece in col. Nothing changes
// locally: the board only moves when the authority's update arrives. It
// reports whether the request was sent.
func (s *Session) RequestMove(col int) bool {
	s.mu.Lock()
	err := ValidateMove(s.state, col)
	s.mu.Unlock()
	if err != nil {
		s.log.Debug("move rejected", map[string]interface{}{"column": col, "reason": err.Error()})
		return false
	}
	if err := s.ch.Send(protocol.TypeMakeMove, protocol.MakeMove{Column: col}); err != nil {
		s.log.Warn("move not sent", map[string]interface{}{"column": col, "error": err.Error()})
		return false
	}
	return true
}

// ApplyRemoteUpdate merges an authority update into the state. Absent
// fields keep their previous values. Terminal sessions ignore updates.
func (s *Session) ApplyRemoteUpdate(u protocol.GameUpdate) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	s.mu.Lock()
	if s.closed || s.state.Status.Terminal() {
		status := s.state.Status
		s.mu.Unlock()
		s.log.Debug("ignoring update for terminal session", map[string]interface{}{"status": string(status)})
		return
	}

	prev := s.state
	next := prev.clone()

	if u.Board != nil {
		if b, err := game.FromGrid(u.Board); err != nil {
			s.log.Warn("ignoring invalid board", err)
		} else {
			next.Board = b
		}
	}
	if u.CurrentPlayer != nil {
		if p := game.PlayerID(*u.CurrentPlayer); p.Valid() {
			next.CurrentPlayer = p
		} else {
			s.log.Warn("ignoring invalid current player", map[string]interface{}{"currentPlayer": *u.CurrentPlayer})
		}
	}
	if u.Winner != nil {
		if p := game.PlayerID(*u.Winner); p == game.Empty || p.Valid() {
			next.Winner = p
		} else {
			s.log.Warn("ignoring invalid winner", map[string]interface{}{"winner": *u.Winner})
		}
	}
	if u.Players != nil {
		next.Players = append([]protocol.Player{}, (*u.Players)...)
		next.LocalPlayer, next.OpponentName = seats(next.Players, s.opts.PlayerName)
	}
	if u.MoveHistory != nil {
		next.MoveHistory = append([]protocol.Move{}, (*u.MoveHistory)...)
	}
	if u.GameStatus != nil {
		if st, ok := parseStatus(*u.GameStatus); ok {
			next.Status = st
		} else {
			s.log.Warn("ignoring unknown game status", map[string]interface{}{"gameStatus": *u.GameStatus})
		}
	}

	if next.Status == StatusPlaying && next.StartedAt == nil {
		t := s.opts.Now()
		next.StartedAt = &t
	}
	if len(next.MoveHistory) > 0 {
		next.MoveCount = len(next.MoveHistory)
	} else {
		next.MoveCount = next.Board.Count()
	}
	next.IsMyTurn = next.LocalPlayer != nil && next.CurrentPlayer == *next.LocalPlayer

	submit := false
	if next.Status == StatusFinished {
		if next.Winner.Valid() {
			next.Outcome = Outcome{Kind: OutcomeWin, Winner: next.Winner}
		} else {
			next.Outcome = Outcome{Kind: OutcomeDraw}
		}
		submit = !s.submitted
		s.submitted = true
	}

	snap := s.commitLocked(next)
	s.mu.Unlock()

	if prev.Status != snap.Status {
		s.log.Info("status changed", map[string]interface{}{"gameId": snap.GameID, "from": string(prev.Status), "to": string(snap.Status)})
	}
	s.publish(snap)
	if submit {
		s.submit(snap)
	}
}

// HandleOpponentDisconnected marks the match abandoned whatever its phase.
func (s *Session) HandleOpponentDisconnected() {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	s.mu.Lock()
	if s.closed || s.state.Status == StatusAbandoned {
		s.mu.Unlock()
		return
	}
	next := s.state.clone()
	next.Status = StatusAbandoned
	next.IsMyTurn = false
	snap := s.commitLocked(next)
	s.mu.Unlock()

	s.log.Info("opponent disconnected", map[string]interface{}{"gameId": snap.GameID})
	s.publish(snap)
}

// Reset starts a new match with the same game id.
func (s *Session) Reset(ctx context.Context) error {
	return s.ResetWithID(ctx, s.GameID())
}

// ResetWithID returns to the waiting state under gameID, rearms the
// statistics latch and connects again.
func (s *Session) ResetWithID(ctx context.Context, gameID string) error {
	if gameID == "" {
		gameID = NewGameID(s.opts.Now())
	}
	s.pubMu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.pubMu.Unlock()
		return ws.ErrClosed
	}
	s.gen++
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	prevID := s.state.GameID
	next := initialState(gameID)
	next.Connection = s.ch.State()
	s.submitted = false
	gen := s.gen
	snap := s.commitLocked(next)
	s.mu.Unlock()

	s.log.Info("session reset", map[string]interface{}{"gameId": gameID})
	s.publish(snap)
	s.pubMu.Unlock()

	wasOpen := snap.Connection.Kind == ws.Open
	if err := s.connect(ctx, gen, gameID); err != nil {
		return err
	}
	if wasOpen && prevID == gameID {
		// Same socket, no open event will follow.
		s.join()
	}
	return nil
}

// GameID returns the current game id.
func (s *Session) GameID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.GameID
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers fn for state changes. Calls never overlap and arrive
// in the order the states were committed. fn may read the session but must
// not change it.
func (s *Session) Subscribe(fn func(State)) pubsub.Unsubscribe {
	return s.bus.Subscribe(TopicState, func(p interface{}) {
		if st, ok := p.(State); ok {
			fn(st)
		}
	})
}

// Close detaches from the channel and closes it. Pending retries are
// cancelled; in-flight statistics submissions are left to finish.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.gen++
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	return s.ch.Close()
}

// commitLocked installs next and returns the copy to publish. Must hold s.mu.
func (s *Session) commitLocked(next State) State {
	s.state = next
	return next.clone()
}

func (s *Session) publish(st State) {
	s.bus.Publish(TopicState, st)
}

func (s *Session) submit(st State) {
	if s.opts.Submitter == nil {
		return
	}
	summary := stats.Summary{
		GameID:      st.GameID,
		GameType:    s.opts.GameType,
		FinalStatus: string(st.Status),
	}
	s.submissions.Add(1)
	go func() {
		defer s.submissions.Done()
		ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
		defer cancel()
		if err := s.opts.Submitter.Submit(ctx, summary); err != nil {
			s.log.Error("statistics submission failed", err)
			return
		}
		s.log.Info("statistics submitted", map[string]interface{}{"gameId": summary.GameID})
	}()
}

// Wait blocks until in-flight statistics submissions are done.
func (s *Session) Wait() {
	s.submissions.Wait()
}
