package statsd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/connect4/client/internal/cache"
	"github.com/connect4/client/internal/logger"
	"github.com/connect4/client/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "stats.db")
	store, err := Open(context.Background(), "sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestServer(t *testing.T) (*Server, *cache.Cache) {
	t.Helper()
	c := cache.NewCache()
	t.Cleanup(func() { c.Close() })
	s := NewServer(openTestStore(t), c, Options{CacheTTL: time.Minute, Logger: logger.Nop()})
	return s, c
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "")
	assert.Error(t, err)
}

func TestStore_InsertAndList(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	day := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	first, err := store.Insert(ctx, Record{GameID: "g1", GameType: "multiplayer", State: "finished", Country: "Madrid", Date: day})
	require.NoError(t, err)
	assert.NotZero(t, first.ID)

	_, err = store.Insert(ctx, Record{GameID: "g2", GameType: "multiplayer", State: "abandoned", Country: "Lima", Date: day.AddDate(0, 0, 1)})
	require.NoError(t, err)

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "g1", all[0].GameID)
	assert.True(t, day.Equal(all[0].Date))
	assert.Equal(t, "abandoned", all[1].State)

	onDay, err := store.ListByDate(ctx, 15, 3, 2024)
	require.NoError(t, err)
	require.Len(t, onDay, 1)
	assert.Equal(t, "g1", onDay[0].GameID)

	none, err := store.ListByDate(ctx, 1, 1, 2020)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NotNil(t, none)
}

func TestStore_ListByDateInvalid(t *testing.T) {
	store := openTestStore(t)
	for _, d := range [][3]int{{31, 2, 2024}, {0, 1, 2024}, {1, 13, 2024}} {
		_, err := store.ListByDate(context.Background(), d[0], d[1], d[2])
		assert.ErrorIs(t, err, ErrInvalidDate, "%v", d)
	}
}

func TestStore_InsertDefaultsDate(t *testing.T) {
	store := openTestStore(t)
	before := time.Now().Add(-time.Second)
	rec, err := store.Insert(context.Background(), Record{GameID: "g", GameType: "t", State: "finished", Country: "X"})
	require.NoError(t, err)
	assert.True(t, rec.Date.After(before))
}

func TestStore_RecordFailure(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.RecordFailure(ctx, "game-events", 2, 41, "{bad", "boom"))
	n, err := store.FailedEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestServer_CreateAndList(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/statistics")
	require.NoError(t, err)
	var empty []Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&empty))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	assert.Empty(t, empty)

	resp, err = http.Post(srv.URL+"/statistics/game_1_abc/multiplayer/finished/Madrid", "application/json", nil)
	require.NoError(t, err)
	var created Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "game_1_abc", created.GameID)
	assert.Equal(t, "Madrid", created.Country)

	// The POST invalidated the cached empty listing.
	resp, err = http.Get(srv.URL + "/statistics")
	require.NoError(t, err)
	var list []Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	resp, err = http.Get(srv.URL + "/statistics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
}

func TestServer_ListByDate(t *testing.T) {
	s, _ := newTestServer(t)
	_, err := s.store.Insert(context.Background(), Record{
		GameID: "g1", GameType: "multiplayer", State: "finished", Country: "Lima",
		Date: time.Date(2024, 3, 15, 23, 59, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/statistics/get/15/3/2024")
	require.NoError(t, err)
	var list []Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, list, 1)

	for _, path := range []string{"/statistics/get/30/2/2024", "/statistics/get/x/3/2024"} {
		resp, err = http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	require.NoError(t, s.store.Close())
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_RateLimit(t *testing.T) {
	c := cache.NewCache()
	defer c.Close()
	s := NewServer(openTestStore(t), c, Options{RateLimit: 2, Logger: logger.Nop()})
	router := s.Router()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/statistics", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func eventMessage(t *testing.T, event stats.GameEvent) *sarama.ConsumerMessage {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: stats.DefaultTopic, Partition: 0, Offset: 7, Value: payload}
}

func TestConsumer_StoresGameEnd(t *testing.T) {
	s, _ := newTestServer(t)
	c := newConsumer(nil, s)
	ctx := context.Background()

	event := stats.GameEndEvent(stats.Summary{GameID: "game_9", GameType: "multiplayer", FinalStatus: "finished"})
	event.Timestamp = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, c.handleMessage(ctx, eventMessage(t, event)))

	list, err := s.store.ListByDate(ctx, 1, 5, 2024)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "game_9", list[0].GameID)
	assert.Equal(t, "finished", list[0].State)
	assert.Equal(t, "UNKNOWN", list[0].Country)
}

func TestConsumer_IgnoresOtherEvents(t *testing.T) {
	s, _ := newTestServer(t)
	c := newConsumer(nil, s)
	require.NoError(t, c.handleMessage(context.Background(), eventMessage(t, stats.GameEvent{Type: "move", GameID: "g"})))

	list, err := s.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestConsumer_FailuresAreKept(t *testing.T) {
	s, _ := newTestServer(t)
	c := newConsumer(nil, s)
	ctx := context.Background()

	c.process(ctx, &sarama.ConsumerMessage{Topic: stats.DefaultTopic, Value: []byte("{not json")})
	c.process(ctx, eventMessage(t, stats.GameEvent{Type: stats.EventGameEnd, GameID: "g", Data: map[string]interface{}{"gameType": "multiplayer"}}))

	n, err := s.store.FailedEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
