// Package collyprobe implements probe.Backend with a gocolly HEAD collector.
package collyprobe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/czds-harvester/internal/httpclient"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	Transport http.RoundTripper
}

// Backend issues HEAD requests through cloned Colly collectors.
type Backend struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type outcome struct {
	resp *httpclient.Response
	err  error
}

// New builds a Backend. Robots rules don't apply to an authorized API.
func New(cfg Config) *Backend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Transport == nil {
		cfg.Transport = httpclient.NewTransport()
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.WithTransport(cfg.Transport)
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Backend{cfg: cfg, baseCollector: c}
}

// Head probes url. Non-2xx responses surface as *httpclient.StatusError.
func (b *Backend) Head(ctx context.Context, url, authorization string) (*httpclient.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("colly head canceled: %w", err)
	}
	collector := b.baseCollector.Clone()
	colly.StdlibContext(ctx)(collector)
	done := make(chan outcome, 1)

	go func() {
		var result outcome
		configureHooks(collector, url, authorization, &result)
		if err := collector.Head(url); err != nil && result.err == nil {
			result.err = fmt.Errorf("colly head failed: %w", err)
		}
		done <- result
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("colly head canceled: %w", ctx.Err())
	case result := <-done:
		if result.err != nil {
			return nil, result.err
		}
		if result.resp == nil {
			return nil, fmt.Errorf("colly head %s: no response", url)
		}
		return result.resp, nil
	}
}

func configureHooks(hooks collectorHooks, url, authorization string, result *outcome) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
		if authorization != "" {
			r.Headers.Set("Authorization", authorization)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.resp = &httpclient.Response{
			StatusCode: r.StatusCode,
			Header:     r.Headers.Clone(),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			result.err = &httpclient.StatusError{Method: http.MethodHead, URL: url, StatusCode: r.StatusCode}
			return
		}
		result.err = err
	})
}
