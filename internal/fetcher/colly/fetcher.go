// Package collyfetcher performs single HTTP GETs against the profile API
// using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/activity-harvester/internal/harvest"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Headers are added to every request (e.g. Accept).
	Headers http.Header
}

// Getter implements harvest.Getter using the Colly collector. Every status
// code is returned as a Response; only transport failures are errors.
type Getter struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Getter with a pooled transport shared by all requests.
func New(cfg Config) *Getter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	return &Getter{cfg: cfg, baseCollector: c}
}

// Get executes a single GET.
func (g *Getter) Get(ctx context.Context, url string) (harvest.Response, error) {
	var (
		result   harvest.Response
		fetchErr error
	)
	start := time.Now()
	collector := g.buildCollector(start, &result, &fetchErr)
	if err := g.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return harvest.Response{}, err
	}
	return result, nil
}

func (g *Getter) buildCollector(start time.Time, result *harvest.Response, fetchErr *error) *colly.Collector {
	collector := g.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true
	if g.cfg.UserAgent != "" {
		collector.UserAgent = g.cfg.UserAgent
	}
	collector.SetRequestTimeout(g.cfg.Timeout)
	g.configureCollectorHooks(collector, start, result, fetchErr)
	return collector
}

func (g *Getter) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *harvest.Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		g.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = harvest.Response{
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (g *Getter) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (g *Getter) copyHeaders(r *colly.Request) {
	for key, values := range g.cfg.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
	}
}
