package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSubmitter_PostsSummary(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sub := NewHTTPSubmitter(srv.URL + "/")
	sub.Country = func() string { return "Madrid" }

	err := sub.Submit(context.Background(), Summary{GameID: "game_1_abc", GameType: "multiplayer", FinalStatus: "finished"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/statistics/game_1_abc/multiplayer/finished/Madrid", gotPath)
}

func TestHTTPSubmitter_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sub := NewHTTPSubmitter(srv.URL)
	sub.Country = func() string { return "" }

	err := sub.Submit(context.Background(), Summary{GameID: "g", GameType: "multiplayer", FinalStatus: "finished"})
	assert.ErrorIs(t, err, ErrSubmissionFailed)
	assert.Contains(t, err.Error(), "500")
}

func TestCountryFromZone(t *testing.T) {
	tests := map[string]string{
		"Europe/Madrid":                  "Madrid",
		"America/Argentina/Buenos_Aires": "Argentina",
		"America/New York":               "New_York",
		"UTC":                            "UNKNOWN",
		"Local":                          "UNKNOWN",
		"":                               "UNKNOWN",
	}
	for zone, want := range tests {
		t.Run(zone, func(t *testing.T) {
			assert.Equal(t, want, CountryFromZone(zone))
		})
	}
}

func TestKafkaSubmitter_SendsGameEnd(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev GameEvent
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.Type != EventGameEnd || ev.GameID != "game_9" || ev.Data["finalStatus"] != "finished" {
			return errors.New("unexpected event")
		}
		return nil
	})

	sub := NewKafkaSubmitterWithProducer(producer, "")
	require.NoError(t, sub.Submit(context.Background(), Summary{GameID: "game_9", GameType: "multiplayer", FinalStatus: "finished"}))
	require.NoError(t, sub.Close())
}

func TestKafkaSubmitter_ProducerError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sub := NewKafkaSubmitterWithProducer(producer, "events")
	err := sub.Submit(context.Background(), Summary{GameID: "g"})
	assert.ErrorIs(t, err, ErrSubmissionFailed)
	require.NoError(t, sub.Close())
}

type fakeSubmitter struct {
	calls int
	err   error
}

func (f *fakeSubmitter) Submit(context.Context, Summary) error {
	f.calls++
	return f.err
}

func TestMulti_SubmitsToEverySink(t *testing.T) {
	ok := &fakeSubmitter{}
	bad := &fakeSubmitter{err: errors.New("boom")}

	err := Multi{bad, ok}.Submit(context.Background(), Summary{GameID: "g"})
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, ok.calls)
	assert.Equal(t, 1, bad.calls)

	assert.NoError(t, Multi{ok}.Submit(context.Background(), Summary{}))
}
