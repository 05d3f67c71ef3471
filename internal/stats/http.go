package stats

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPSubmitter posts summaries to the statistics service:
// POST {BaseURL}/statistics/{gameId}/{gameType}/{finalStatus}/{country}
type HTTPSubmitter struct {
	BaseURL string
	Client  *http.Client
	Country func() string
}

// NewHTTPSubmitter returns a submitter with a 10s timeout client.
func NewHTTPSubmitter(baseURL string) *HTTPSubmitter {
	return &HTTPSubmitter{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: defaultHTTPTimeout},
		Country: LocalCountry,
	}
}

func (h *HTTPSubmitter) Submit(ctx context.Context, s Summary) error {
	err := h.submit(ctx, s)
	record("http", err)
	if err != nil {
		return wrap("http", err)
	}
	return nil
}

func (h *HTTPSubmitter) submit(ctx context.Context, s Summary) error {
	country := s.Country
	if country == "" && h.Country != nil {
		country = h.Country()
	}
	if country == "" {
		country = "UNKNOWN"
	}

	endpoint := fmt.Sprintf("%s/statistics/%s/%s/%s/%s", h.BaseURL,
		url.PathEscape(s.GameID), url.PathEscape(s.GameType),
		url.PathEscape(s.FinalStatus), url.PathEscape(country))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
