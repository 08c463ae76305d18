package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"
)

// statusError is a non-200 answer from a JSON API.
type statusError struct {
	Host   string
	Status int
	Text   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s returned %s", e.Host, e.Text)
}

func isStatus(err error, code int) bool {
	se, ok := err.(*statusError)
	return ok && se.Status == code
}

// fetchJSON waits for a request slot, GETs rawURL and decodes the body into out.
func fetchJSON(ctx context.Context, client *http.Client, limiter *rate.Limiter, rawURL string, header http.Header, out any) error {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait for request slot: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &statusError{Host: req.URL.Host, Status: resp.StatusCode, Text: resp.Status}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}
