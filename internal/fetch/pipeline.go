package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BadgerOps/epggen/internal/cache"
)

var (
	// ErrFailed marks a key for which no data could be obtained.
	ErrFailed = errors.New("fetch failed")
	// ErrNotCached is returned by Restore when the key has no cache file.
	ErrNotCached = errors.New("not cached")
)

// ParseFunc consumes a raw response body. The returned bool is passed back to
// the caller unchanged; paged fetches use it to decide whether to continue.
type ParseFunc func(data []byte) (bool, error)

// FailureFunc is notified when all attempts for a key have been exhausted.
type FailureFunc func(key cache.Key, url, path string, attempts int, err error)

// Options configures retry behaviour of a Pipeline.
type Options struct {
	Attempts       int
	RetryDelay     time.Duration
	RateLimitDelay time.Duration
}

// DefaultOptions mirrors the providers' tolerance: five tries, five seconds
// apart, five minutes when the server reports rate limiting.
func DefaultOptions() Options {
	return Options{
		Attempts:       5,
		RetryDelay:     5 * time.Second,
		RateLimitDelay: 5 * time.Minute,
	}
}

// Pipeline resolves a key from the cache or, failing that, from the network,
// populating the cache on success.
type Pipeline struct {
	store  *cache.Store
	getter Getter
	logger *slog.Logger
	opts   Options

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	// OnFailure, when set, is called for every key that could not be fetched.
	OnFailure FailureFunc
}

// NewPipeline creates a pipeline over store using getter for network access.
func NewPipeline(store *cache.Store, getter Getter, logger *slog.Logger, opts Options) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.Attempts <= 0 {
		opts.Attempts = def.Attempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.RateLimitDelay <= 0 {
		opts.RateLimitDelay = def.RateLimitDelay
	}
	return &Pipeline{
		store:  store,
		getter: getter,
		logger: logger,
		opts:   opts,
		sleep:  sleepContext,
	}
}

// Store returns the cache the pipeline reads from and writes to.
func (p *Pipeline) Store() *cache.Store {
	return p.store
}

// Resolve returns parse's result for key. A cache hit never touches the
// network. On a miss the URL is fetched up to Attempts times and the raw body
// is written to the cache before parse runs, so a parse error still leaves a
// reusable snapshot. Any failure is reported as an error wrapping ErrFailed.
func (p *Pipeline) Resolve(ctx context.Context, url string, key cache.Key, parse ParseFunc) (bool, error) {
	path, hit, err := p.store.Lookup(key)
	if err != nil {
		return false, p.fail(key, url, path, 0, err)
	}
	if hit {
		p.logger.Info("using cached data", "url", url, "path", path)
		return p.parseFile(key, url, path, parse)
	}

	var lastErr error
	for attempt := 1; attempt <= p.opts.Attempts; attempt++ {
		data, err := p.getter.Get(ctx, url)
		if err == nil {
			written, werr := p.store.Write(key, data)
			if werr != nil {
				return false, p.fail(key, url, path, attempt, werr)
			}
			p.logger.Info("fetched url", "url", url, "path", written)
			more, perr := parse(data)
			if perr != nil {
				return false, p.fail(key, url, written, attempt, fmt.Errorf("parsing response: %w", perr))
			}
			return more, nil
		}

		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false, p.fail(key, url, path, attempt, err)
		}
		if attempt == p.opts.Attempts {
			break
		}

		delay := p.opts.RetryDelay
		if IsRateLimited(err) {
			delay = p.opts.RateLimitDelay
		}
		p.logger.Warn("fetch attempt failed", "url", url, "attempt", attempt, "retry_after", delay, "error", err)
		if err := p.sleep(ctx, delay); err != nil {
			return false, p.fail(key, url, path, attempt, err)
		}
	}

	return false, p.fail(key, url, path, p.opts.Attempts,
		fmt.Errorf("giving up after %d attempts: %w", p.opts.Attempts, lastErr))
}

// Restore parses the cached file for key without any network access.
func (p *Pipeline) Restore(key cache.Key, parse ParseFunc) (bool, error) {
	path, hit, err := p.store.Lookup(key)
	if err != nil {
		return false, err
	}
	if !hit {
		return false, fmt.Errorf("%s: %w", key, ErrNotCached)
	}
	return p.parseFile(key, "", path, parse)
}

// Pages resolves consecutive pages starting at first until parse reports no
// more data or a page cannot be resolved. It returns the number of pages
// whose parse reported data.
func (p *Pipeline) Pages(ctx context.Context, first int, urlFor func(page int) string, keyFor func(page int) cache.Key, parse ParseFunc) int {
	n := 0
	for page := first; ; page++ {
		more, err := p.Resolve(ctx, urlFor(page), keyFor(page), parse)
		if err != nil || !more {
			return n
		}
		n++
	}
}

func (p *Pipeline) parseFile(key cache.Key, url, path string, parse ParseFunc) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, p.fail(key, url, path, 0, fmt.Errorf("reading cache file: %w", err))
	}
	more, err := parse(data)
	if err != nil {
		return false, p.fail(key, url, path, 0, fmt.Errorf("parsing cache file: %w", err))
	}
	return more, nil
}

func (p *Pipeline) fail(key cache.Key, url, path string, attempts int, err error) error {
	p.logger.Warn("no data for key", "key", key.String(), "url", url, "error", err)
	if p.OnFailure != nil && attempts > 0 {
		p.OnFailure(key, url, path, attempts, err)
	}
	return fmt.Errorf("%s: %w: %w", key, ErrFailed, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
