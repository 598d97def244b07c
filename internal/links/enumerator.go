// Package links retrieves the resource links granted to the authenticated identity.
package links

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/czds-harvester/internal/harvest"
	"github.com/JakeFAU/czds-harvester/internal/httpclient"
)

// Doer is the subset of the HTTP adapter used by the enumerator.
type Doer interface {
	Do(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
}

// Enumerator lists authorized download links.
type Enumerator struct {
	client Doer
	url    string
	clock  harvest.Clock
	logger *zap.Logger
}

// New builds an Enumerator for the given links endpoint.
func New(client Doer, url string, clock harvest.Clock, logger *zap.Logger) *Enumerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enumerator{client: client, url: url, clock: clock, logger: logger}
}

// Enumerate issues one authorized request and returns every link in response
// order. An empty body yields zero links. Failures are *harvest.EnumerationError.
func (e *Enumerator) Enumerate(ctx context.Context, token harvest.Token) ([]harvest.Link, error) {
	if !token.Valid(e.clock.Now()) {
		return nil, &harvest.EnumerationError{Cause: harvest.ErrTokenInvalid}
	}
	if e.url == "" {
		return nil, &harvest.EnumerationError{Cause: errors.New("links url is not configured")}
	}

	resp, err := e.client.Do(ctx, httpclient.Request{
		Method:        http.MethodGet,
		URL:           e.url,
		Authorization: token.Header(),
	})
	if err != nil {
		return nil, &harvest.EnumerationError{Cause: err}
	}

	links, err := decodeLinks(resp.Body)
	if err != nil {
		return nil, &harvest.EnumerationError{Cause: err}
	}
	e.logger.Info("links retrieved", zap.Int("count", len(links)))
	return links, nil
}

func decodeLinks(body []byte) ([]harvest.Link, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return []harvest.Link{}, nil
	}
	var raw []string
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("decode links: %w", err)
	}
	links := make([]harvest.Link, 0, len(raw))
	for i, link := range raw {
		if link == "" {
			return nil, fmt.Errorf("decode links: empty link at index %d", i)
		}
		links = append(links, link)
	}
	return links, nil
}

// Limit applies the caller's max-links policy. max <= 0 keeps every link.
func Limit(all []harvest.Link, max int) []harvest.Link {
	if max <= 0 || len(all) <= max {
		return all
	}
	return all[:max]
}
