// Package retry runs an operation with bounded, exponentially backed-off
// retries. Middleware uses it for side effects such as command execution.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	intTracing "github.com/gxo-labs/rdx/internal/tracing"
	gxolog "github.com/gxo-labs/rdx/pkg/rdx/v1/log"
)

type Operation func(ctx context.Context) error

// Config controls one Do call. Zero values mean a single attempt without delay.
type Config struct {
	Attempts      int
	Delay         time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        float64
	// Name labels log lines, usually the middleware and action type.
	Name string
}

func (c Config) normalized() Config {
	if c.Attempts <= 0 {
		c.Attempts = 1
	}
	if c.BackoffFactor < 1.0 {
		c.BackoffFactor = 1.0
	}
	c.Jitter = math.Min(math.Max(c.Jitter, 0), 1)
	if c.Delay < 0 {
		c.Delay = 0
	}
	if c.MaxDelay < 0 {
		c.MaxDelay = 0
	}
	return c
}

// Helper executes operations with retries. Error messages it logs or returns
// have values following redacted keywords masked.
type Helper struct {
	log      gxolog.Logger
	keywords map[string]struct{}

	randMu sync.Mutex
	rand   *rand.Rand
}

func NewHelper(log gxolog.Logger) *Helper {
	if log == nil {
		panic("retry.NewHelper requires a non-nil logger")
	}
	return &Helper{
		log:      log,
		keywords: make(map[string]struct{}),
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (h *Helper) SetRedactedKeywords(keywords map[string]struct{}) {
	h.keywords = keywords
}

func (h *Helper) redact(err error) error {
	if err == nil || len(h.keywords) == 0 {
		return err
	}
	msg := intTracing.RedactSecretsInString(err.Error(), h.keywords)
	if msg == err.Error() {
		return err
	}
	return errors.New(msg)
}

// backoff returns the wait before the attempt following attempt.
func (h *Helper) backoff(cfg Config, attempt int) time.Duration {
	base := float64(cfg.Delay) * math.Pow(cfg.BackoffFactor, float64(attempt-1))
	base = math.Min(base, float64(math.MaxInt64))
	wait := time.Duration(base)

	if cfg.Jitter > 0 {
		h.randMu.Lock()
		factor := cfg.Jitter * (h.rand.Float64()*2 - 1)
		h.randMu.Unlock()
		wait += time.Duration(float64(wait) * factor)
		if wait < 0 {
			wait = 0
		}
	}
	if cfg.MaxDelay > 0 && wait > cfg.MaxDelay {
		wait = cfg.MaxDelay
	}
	return wait
}

// Do runs op until it succeeds, the attempts are exhausted or ctx is done.
// The last error is returned, redacted.
func (h *Helper) Do(ctx context.Context, cfg Config, op Operation) error {
	cfg = cfg.normalized()
	prefix := ""
	if cfg.Name != "" {
		prefix = cfg.Name + ": "
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				return err
			}
			return fmt.Errorf("retry cancelled after %d attempts: %w (context: %w)", attempt-1, h.redact(lastErr), err)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			if attempt > 1 {
				h.log.Infof("%sOperation succeeded on attempt %d/%d", prefix, attempt, cfg.Attempts)
			}
			return nil
		}
		if attempt == cfg.Attempts {
			break
		}

		wait := h.backoff(cfg, attempt)
		h.log.Warnf("%sOperation failed on attempt %d/%d (retrying in %v): %v",
			prefix, attempt, cfg.Attempts, wait.Truncate(time.Millisecond), h.redact(lastErr))

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry delay cancelled after attempt %d: %w (context: %w)", attempt, h.redact(lastErr), ctx.Err())
		}
	}

	redacted := h.redact(lastErr)
	h.log.Errorf("%sOperation failed after %d attempts: %v", prefix, cfg.Attempts, redacted)
	return redacted
}
