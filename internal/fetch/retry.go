package fetch

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// RetryOptions bounds the exponential backoff applied to transient failures.
type RetryOptions struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// RetryingFetcher wraps a Fetcher with exponential backoff on transient
// failures. Not-found, forbidden and cancelled fetches are not retried.
type RetryingFetcher struct {
	inner Fetcher
	log   zerolog.Logger
	opts  RetryOptions
}

func NewRetrying(inner Fetcher, log zerolog.Logger, opts RetryOptions) *RetryingFetcher {
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 200 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 5 * time.Second
	}
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = 30 * time.Second
	}
	return &RetryingFetcher{inner: inner, log: log, opts: opts}
}

func (f *RetryingFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.opts.InitialInterval
	bo.MaxInterval = f.opts.MaxInterval
	bo.MaxElapsedTime = f.opts.MaxElapsed

	var out []byte
	attempt := 0
	op := func() error {
		attempt++
		b, err := f.inner.Fetch(ctx, ref)
		if err != nil {
			if !Retriable(err) {
				return backoff.Permanent(err)
			}
			f.log.Warn().Err(err).Str("ref", ref).Int("attempt", attempt).Msg("fetch_retry")
			return err
		}
		out = b
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return out, nil
}
