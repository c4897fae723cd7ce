// Package retry re-runs idempotent calls to external stores with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/googleapi"
)

// StatusError is a non-2xx HTTP response from a store.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("unexpected status %d %s: %s", e.Code, http.StatusText(e.Code), e.Body)
}

type Policy struct {
	MaxAttempts int
	Backoff     gax.Backoff
	Retryable   func(error) bool
}

func Default() Policy {
	return Policy{
		MaxAttempts: 4,
		Backoff: gax.Backoff{
			Initial:    500 * time.Millisecond,
			Max:        8 * time.Second,
			Multiplier: 2,
		},
		Retryable: IsTransient,
	}
}

// Do calls fn until it succeeds, returns a permanent error, or the attempts run
// out. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	bo := p.Backoff

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= attempts || !retryable(err) || ctx.Err() != nil {
			return err
		}
		pause := bo.Pause()
		log.Printf("Warning: attempt %d/%d failed, retrying in %s: %v", attempt, attempts, pause, err)
		if serr := gax.Sleep(ctx, pause); serr != nil {
			return err
		}
	}
}

// IsTransient accepts rate limiting, server errors, network timeouts and
// truncated responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return transientCode(se.Code)
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return transientCode(ge.Code)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

func transientCode(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
