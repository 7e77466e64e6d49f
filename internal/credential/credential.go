// Package credential turns API tokens into rate-limited fetchers and splits
// identifier lists across them.
package credential

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/activity-harvester/internal/harvest"
	"github.com/JakeFAU/activity-harvester/internal/metrics"
	"github.com/JakeFAU/activity-harvester/internal/policy/ratelimit"
)

// Credential is one API token with its own call-rate ceiling.
type Credential struct {
	Token          string  `mapstructure:"token" yaml:"token"`
	Owner          string  `mapstructure:"owner" yaml:"owner"`
	CallsPerMinute float64 `mapstructure:"calls_per_minute" yaml:"calls_per_minute"`
}

// MinInterval is the minimum spacing between two calls with this credential.
func (c Credential) MinInterval() time.Duration {
	if c.CallsPerMinute <= 0 {
		return 0
	}
	return time.Duration(float64(time.Minute) / c.CallsPerMinute)
}

// Validate checks the credential is usable.
func (c Credential) Validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("%w: credential %q has no token", harvest.ErrConfiguration, c.Owner)
	}
	if strings.TrimSpace(c.Owner) == "" {
		return fmt.Errorf("%w: credential has no owner label", harvest.ErrConfiguration)
	}
	if c.CallsPerMinute <= 0 {
		return fmt.Errorf("%w: credential %q calls_per_minute must be > 0", harvest.ErrConfiguration, c.Owner)
	}
	return nil
}

// String hides the token.
func (c Credential) String() string {
	return fmt.Sprintf("%s (%.0f/min)", c.Owner, c.CallsPerMinute)
}

// Limited fetches one identifier per call, waiting on the credential's
// spacer first. It implements harvest.Fetcher.
type Limited struct {
	cred     Credential
	spacer   *ratelimit.Spacer
	getter   harvest.Getter
	template string
	calls    atomic.Int64
	logger   *zap.Logger
}

// NewLimited builds a rate-limited fetcher. urlTemplate must contain {id};
// {key} is replaced with the token.
func NewLimited(cred Credential, getter harvest.Getter, urlTemplate string, logger *zap.Logger) (*Limited, error) {
	if err := cred.Validate(); err != nil {
		return nil, err
	}
	if getter == nil {
		return nil, fmt.Errorf("%w: credential %q has no getter", harvest.ErrConfiguration, cred.Owner)
	}
	if !strings.Contains(urlTemplate, "{id}") {
		return nil, fmt.Errorf("%w: url template %q lacks {id}", harvest.ErrConfiguration, urlTemplate)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limited{
		cred:     cred,
		spacer:   ratelimit.NewSpacer(cred.Owner, cred.MinInterval()),
		getter:   getter,
		template: urlTemplate,
		logger:   logger.With(zap.String("credential", cred.Owner)),
	}, nil
}

// Owner implements harvest.Fetcher.
func (l *Limited) Owner() string {
	return l.cred.Owner
}

// Calls implements harvest.Fetcher.
func (l *Limited) Calls() int64 {
	return l.calls.Load()
}

// Acquire blocks until this credential may make its next call.
func (l *Limited) Acquire(ctx context.Context) error {
	return l.spacer.Wait(ctx)
}

// Fetch implements harvest.Fetcher: exactly one network call after a permit.
func (l *Limited) Fetch(ctx context.Context, id int64) harvest.FetchOutcome {
	if err := l.Acquire(ctx); err != nil {
		return harvest.Timeout(err)
	}
	l.calls.Add(1)

	resp, err := l.getter.Get(ctx, l.url(id))
	outcome := l.outcome(resp, err)
	metrics.ObserveFetch(l.cred.Owner, outcome.Kind.String(), outcome.Duration)
	if outcome.Err != nil {
		l.logger.Debug("fetch failed",
			zap.Int64("identifier", id),
			zap.Stringer("outcome", outcome.Kind),
			zap.String("error", l.redact(outcome.Err.Error())),
		)
	}
	return outcome
}

func (l *Limited) outcome(resp harvest.Response, err error) harvest.FetchOutcome {
	if err != nil {
		out := harvest.Timeout(err)
		out.Duration = resp.Duration
		return out
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		out := harvest.HTTPError(resp.StatusCode)
		out.Duration = resp.Duration
		return out
	}
	doc, err := harvest.DecodeDocument(resp.Body)
	if err != nil {
		out := harvest.Unparseable(err)
		out.StatusCode = resp.StatusCode
		out.Duration = resp.Duration
		return out
	}
	out := harvest.Success(doc)
	out.StatusCode = resp.StatusCode
	out.Duration = resp.Duration
	return out
}

// redact strips the token from messages that may embed the request URL.
func (l *Limited) redact(msg string) string {
	return strings.ReplaceAll(msg, l.cred.Token, "****")
}

func (l *Limited) url(id int64) string {
	return strings.NewReplacer(
		"{id}", strconv.FormatInt(id, 10),
		"{key}", l.cred.Token,
	).Replace(l.template)
}
