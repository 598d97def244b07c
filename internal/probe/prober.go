// Package probe collects resource metadata with lightweight HEAD requests.
package probe

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/czds-harvester/internal/harvest"
	"github.com/JakeFAU/czds-harvester/internal/httpclient"
	"github.com/JakeFAU/czds-harvester/internal/metrics"
)

const (
	defaultConcurrency = 4
	defaultTimeout     = 15 * time.Second
)

// Backend issues a status-checked HEAD request. Non-2xx responses must be
// reported as *httpclient.StatusError.
type Backend interface {
	Head(ctx context.Context, url, authorization string) (*httpclient.Response, error)
}

// Config controls probe fan-out.
type Config struct {
	Concurrency int
	// Timeout bounds each probe independently, retries included.
	Timeout time.Duration
}

// Prober probes links concurrently and returns one result per link.
type Prober struct {
	backend Backend
	cfg     Config
	clock   harvest.Clock
	logger  *zap.Logger
}

// New builds a Prober.
func New(backend Backend, cfg Config, clock harvest.Clock, logger *zap.Logger) *Prober {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{backend: backend, cfg: cfg, clock: clock, logger: logger}
}

// Probe returns results in link order. A failing link never aborts the
// others; links not started before ctx ends are reported as canceled.
// An expired token is never sent: affected links are reported as token_invalid.
func (p *Prober) Probe(ctx context.Context, token harvest.Token, links []harvest.Link) []harvest.ProbeResult {
	results := make([]harvest.ProbeResult, len(links))
	if !token.Valid(p.clock.Now()) {
		p.logger.Error("session token expired before probing", zap.Int("links", len(links)))
		for i, link := range links {
			results[i] = failed(link, harvest.ProbeTokenInvalid, 0, harvest.ErrTokenInvalid)
		}
		return results
	}
	authorization := token.Header()

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for i, link := range links {
		if err := ctx.Err(); err != nil {
			results[i] = failed(link, harvest.ProbeCanceled, 0, err)
			continue
		}
		g.Go(func() error {
			if !token.Valid(p.clock.Now()) {
				results[i] = failed(link, harvest.ProbeTokenInvalid, 0, harvest.ErrTokenInvalid)
				return nil
			}
			results[i] = p.probeOne(ctx, link, authorization)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Prober) probeOne(ctx context.Context, link harvest.Link, authorization string) harvest.ProbeResult {
	metrics.IncProbesInFlight()
	defer metrics.DecProbesInFlight()

	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	resp, err := p.backend.Head(probeCtx, link, authorization)
	if err == nil && resp.StatusCode != http.StatusOK {
		err = &httpclient.StatusError{Method: http.MethodHead, URL: link, StatusCode: resp.StatusCode}
	}
	if err != nil {
		result := classify(ctx, probeCtx, link, err)
		metrics.ObserveProbe(link, string(result.Err.Kind))
		p.logger.Warn("probe failed",
			zap.String("link", link),
			zap.String("kind", string(result.Err.Kind)),
			zap.Int("status", result.Err.Status),
			zap.Error(err),
		)
		return result
	}

	meta := Metadata(link, resp.Header, p.clock.Now())
	metrics.ObserveProbe(link, "ok")
	p.logger.Debug("probe succeeded", zap.String("resource", resourceName(link)))
	return harvest.ProbeResult{Link: link, Metadata: &meta}
}

func classify(parent, probeCtx context.Context, link harvest.Link, err error) harvest.ProbeResult {
	var statusErr *httpclient.StatusError
	switch {
	case errors.As(err, &statusErr):
		return failed(link, harvest.ProbeHTTP, statusErr.StatusCode, err)
	case parent.Err() != nil:
		return failed(link, harvest.ProbeCanceled, 0, err)
	case errors.Is(probeCtx.Err(), context.DeadlineExceeded) || httpclient.IsTimeout(err):
		return failed(link, harvest.ProbeTimeout, 0, err)
	default:
		return failed(link, harvest.ProbeNetwork, 0, err)
	}
}

func failed(link harvest.Link, kind harvest.ProbeErrorKind, status int, cause error) harvest.ProbeResult {
	return harvest.ProbeResult{
		Link: link,
		Err:  &harvest.ProbeError{Link: link, Kind: kind, Status: status, Cause: cause},
	}
}

// Metadata builds a ResourceMetadata from whatever headers are present.
// Missing or unparsable headers leave the field nil.
func Metadata(link harvest.Link, header http.Header, probedAt time.Time) harvest.ResourceMetadata {
	meta := harvest.ResourceMetadata{URI: link, ProbedAt: probedAt.UTC()}
	if raw := strings.TrimSpace(header.Get("Content-Length")); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n >= 0 {
			meta.ContentLength = &n
		}
	}
	if raw := strings.TrimSpace(header.Get("Last-Modified")); raw != "" {
		if ts, err := http.ParseTime(raw); err == nil {
			ts = ts.UTC()
			meta.LastModified = &ts
		}
	}
	return meta
}

func resourceName(link harvest.Link) string {
	trimmed := strings.TrimRight(link, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}
