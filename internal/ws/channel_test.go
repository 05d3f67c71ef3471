package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/connect4/client/internal/logger"
	"github.com/connect4/client/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const testInterval = 10 * time.Millisecond

type countingDialer struct {
	n atomic.Int32
	d *websocket.Dialer
}

func (c *countingDialer) DialContext(ctx context.Context, u string, h http.Header) (*websocket.Conn, *http.Response, error) {
	c.n.Add(1)
	return c.d.DialContext(ctx, u, h)
}

func newDialer() *countingDialer {
	return &countingDialer{d: &websocket.Dialer{HandshakeTimeout: time.Second}}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// newServer starts a WebSocket endpoint that hands each accepted connection
// (and its connection number, starting at 1) to serve.
func newServer(t *testing.T, serve func(n int32, r *http.Request, conn *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	var count atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(count.Add(1), r, conn)
	}))
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func rejectingServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func startChannel(t *testing.T, url string, d Dialer) (*Channel, context.CancelFunc) {
	t.Helper()
	ch := NewChannel(Options{
		URL:           url,
		RetryInterval: testInterval,
		Dialer:        d,
		Logger:        logger.Nop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = ch.Run(ctx)
		close(done)
	}()
	return ch, func() {
		cancel()
		<-done
	}
}

func TestChannel_ConnectSendReceive(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	gotQuery := make(chan string, 1)
	srv, url := newServer(t, func(_ int32, r *http.Request, conn *websocket.Conn) {
		gotQuery <- r.URL.Query().Get("gameId")
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, _ := protocol.Decode(data)
		if msg.Type != protocol.TypeJoinGame {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"gameUpdate","payload":{"currentPlayer":1}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"somethingNew","payload":{}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"gameUpdate","payload":{"currentPlayer":2}}`))
		drain(conn)
	})
	defer srv.Close()

	dialer := newDialer()
	ch, stop := startChannel(t, url, dialer)
	defer stop()

	updates := make(chan json.RawMessage, 4)
	ch.Subscribe(protocol.TypeGameUpdate, func(p interface{}) { updates <- p.(json.RawMessage) })
	second := make(chan struct{}, 4)
	ch.Subscribe(protocol.TypeGameUpdate, func(interface{}) { second <- struct{}{} })

	require.NoError(t, ch.Connect(context.Background(), "game_1"))
	assert.Equal(t, "game_1", <-gotQuery)
	assert.Equal(t, Open, ch.State().Kind)

	require.NoError(t, ch.Send(protocol.TypeJoinGame, protocol.JoinGame{GameID: "game_1", PlayerName: "ana"}))

	for _, want := range []int{1, 2} {
		select {
		case raw := <-updates:
			u, err := protocol.DecodeGameUpdate(raw)
			require.NoError(t, err)
			assert.Equal(t, want, *u.CurrentPlayer)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for gameUpdate")
		}
		<-second
	}
	assert.Equal(t, Open, ch.State().Kind, "malformed frames must not close the channel")

	require.NoError(t, ch.Connect(context.Background(), "game_1"))
	assert.EqualValues(t, 1, dialer.n.Load(), "connect while open must not redial")

	require.NoError(t, ch.Close())
	assert.Equal(t, Closed, ch.State().Kind)
}

func TestChannel_SendWhenNotOpenIsDropped(t *testing.T) {
	ch := NewChannel(Options{URL: "ws://127.0.0.1:1/ws", Logger: logger.Nop()})
	err := ch.Send(protocol.TypeMakeMove, protocol.MakeMove{Column: 2})
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.Equal(t, Idle, ch.State().Kind)
}

func TestChannel_RetriesThenFails(t *testing.T) {
	srv, url := rejectingServer(t)
	defer srv.Close()

	dialer := newDialer()
	ch, stop := startChannel(t, url, dialer)
	defer stop()
	defer ch.Close()

	var attempts []int
	reconnecting := make(chan int, 32)
	failed := make(chan ConnectionFailed, 1)
	ch.Subscribe(EventReconnectionNeeded, func(p interface{}) { reconnecting <- p.(ReconnectionNeeded).Attempt })
	ch.Subscribe(EventConnectionFailed, func(p interface{}) { failed <- p.(ConnectionFailed) })

	err := ch.Connect(context.Background(), "game_1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandshakeFailed)
	var cerr *ConnectError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, http.StatusServiceUnavailable, cerr.Status)

	select {
	case f := <-failed:
		assert.Equal(t, ErrMaxAttemptsExceeded.Error(), f.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("channel never gave up")
	}
	for len(reconnecting) > 0 {
		attempts = append(attempts, <-reconnecting)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, attempts)

	state := ch.State()
	assert.Equal(t, Failed, state.Kind)
	assert.ErrorIs(t, state.Reason, ErrMaxAttemptsExceeded)
	assert.EqualValues(t, 6, dialer.n.Load(), "initial attempt plus five retries")

	time.Sleep(10 * testInterval)
	assert.EqualValues(t, 6, dialer.n.Load(), "no automatic attempts after failing")

	// An explicit connect starts a fresh sequence.
	err = ch.Connect(context.Background(), "game_1")
	assert.ErrorIs(t, err, ErrHandshakeFailed)
	assert.GreaterOrEqual(t, dialer.n.Load(), int32(7))
	assert.Less(t, ch.Attempts(), 3, "the counter restarts from zero")
}

func TestChannel_ReconnectsAfterRemoteClose(t *testing.T) {
	srv, url := newServer(t, func(n int32, _ *http.Request, conn *websocket.Conn) {
		if n == 1 {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "restarting"))
			return
		}
		drain(conn)
	})
	defer srv.Close()

	dialer := newDialer()
	ch, stop := startChannel(t, url, dialer)
	defer stop()
	defer ch.Close()

	reconnecting := make(chan int, 1)
	ch.Subscribe(EventReconnectionNeeded, func(p interface{}) { reconnecting <- p.(ReconnectionNeeded).Attempt })

	require.NoError(t, ch.Connect(context.Background(), "game_1"))

	select {
	case a := <-reconnecting:
		assert.Equal(t, 1, a)
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnection after remote close")
	}
	require.Eventually(t, func() bool {
		return ch.State().Kind == Open && dialer.n.Load() == 2
	}, 2*time.Second, testInterval)
	assert.Zero(t, ch.Attempts(), "a successful open resets the counter")
}

func TestChannel_CloseCancelsPendingRetry(t *testing.T) {
	srv, url := rejectingServer(t)
	defer srv.Close()

	dialer := newDialer()
	ch := NewChannel(Options{URL: url, RetryInterval: 5 * testInterval, Dialer: dialer, Logger: logger.Nop()})
	called := false
	ch.Subscribe(protocol.TypeGameUpdate, func(interface{}) { called = true })

	require.Error(t, ch.Connect(context.Background(), "game_1"))
	assert.Equal(t, 1, ch.Attempts())

	require.NoError(t, ch.Close())
	time.Sleep(20 * testInterval)

	assert.EqualValues(t, 1, dialer.n.Load())
	assert.Equal(t, Closed, ch.State().Kind)
	assert.Zero(t, ch.Attempts())
	assert.Zero(t, ch.bus.HandlerCount(protocol.TypeGameUpdate))
	assert.False(t, called)
}

func TestChannel_ConnectJoinsInFlightAttempt(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		drain(conn)
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	dialer := newDialer()
	ch := NewChannel(Options{URL: url, Dialer: dialer, Logger: logger.Nop()})
	defer ch.Close()

	errs := make(chan error, 2)
	go func() { errs <- ch.Connect(context.Background(), "game_1") }()
	require.Eventually(t, func() bool { return ch.State().Kind == Connecting }, time.Second, time.Millisecond)
	go func() { errs <- ch.Connect(context.Background(), "game_1") }()

	time.Sleep(5 * testInterval)
	close(release)

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	assert.EqualValues(t, 1, dialer.n.Load())
	assert.Equal(t, Open, ch.State().Kind)
}

func TestConnectionState_String(t *testing.T) {
	assert.Equal(t, "open", ConnectionState{Kind: Open}.String())
	assert.Equal(t, "failed(max reconnection attempts exceeded)",
		ConnectionState{Kind: Failed, Reason: ErrMaxAttemptsExceeded}.String())
}
