// Package stats ships finished-match summaries to the statistics backend.
// Submissions are fire-and-forget: callers log failures and move on.
package stats

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/connect4/client/internal/metrics"
)

var ErrSubmissionFailed = errors.New("statistics submission failed")

// Summary is what the core reports once a match reaches the finished state.
type Summary struct {
	GameID      string `json:"gameId"`
	GameType    string `json:"gameType"`
	FinalStatus string `json:"finalStatus"`
	Country     string `json:"country,omitempty"`
}

// Submitter delivers a Summary somewhere.
type Submitter interface {
	Submit(ctx context.Context, s Summary) error
}

// Multi submits to every sink and joins their errors.
type Multi []Submitter

func (m Multi) Submit(ctx context.Context, s Summary) error {
	var errs []error
	for _, sub := range m {
		if err := sub.Submit(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func record(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.StatsSubmissions.WithLabelValues(sink, result).Inc()
}

func wrap(sink string, err error) error {
	return fmt.Errorf("%w (%s): %v", ErrSubmissionFailed, sink, err)
}

// CountryFromZone derives the country segment reported with a submission
// from an IANA zone name ("Europe/Madrid" → "Madrid"). Zones without a
// region part yield "UNKNOWN".
func CountryFromZone(zone string) string {
	parts := strings.Split(strings.ReplaceAll(zone, " ", "_"), "/")
	if len(parts) < 2 || parts[1] == "" {
		return "UNKNOWN"
	}
	return parts[1]
}

// LocalCountry uses $TZ, falling back to the process' local zone name.
func LocalCountry() string {
	if tz := os.Getenv("TZ"); tz != "" {
		return CountryFromZone(tz)
	}
	return CountryFromZone(time.Local.String())
}
