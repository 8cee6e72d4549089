package util

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BodyCache is satisfied by store.Cache.
type BodyCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, body []byte) error
}

// FetcherConfig controls provider downloads.
type FetcherConfig struct {
	Timeout       time.Duration
	UserAgent     string
	Attempts      int
	Backoff       time.Duration
	MaxBackoff    time.Duration
	RatePerSecond float64 // 0 disables limiting
	Burst         int
}

// Fetcher performs GET requests for provider adapters with bounded retries,
// a shared politeness rate limit and an optional response cache.
type Fetcher struct {
	cfg     FetcherConfig
	client  *http.Client
	limiter *rate.Limiter
	cache   BodyCache
	log     *zap.Logger
}

func NewFetcher(cfg FetcherConfig, cache BodyCache, log *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	f := &Fetcher{cfg: cfg, client: NewHTTPClient(cfg.Timeout), cache: cache, log: log}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return f
}

// Get downloads url and returns the body. Extra headers are sent verbatim;
// they are not part of the cache key.
func (f *Fetcher) Get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	if f.cache != nil {
		if b, ok := f.cache.Get(url); ok {
			f.log.Debug("cache hit", zap.String("url", url))
			return b, nil
		}
	}

	var body []byte
	err := Retry(ctx, f.cfg.Attempts, f.cfg.Backoff, f.cfg.MaxBackoff, func() error {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return Permanent(err)
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return Permanent(err)
		}
		if f.cfg.UserAgent != "" {
			req.Header.Set("User-Agent", f.cfg.UserAgent)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode/100 != 2 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			err := fmt.Errorf("GET %s: http %d: %s", url, resp.StatusCode, strings.TrimSpace(string(b)))
			if resp.StatusCode/100 == 4 && resp.StatusCode != http.StatusTooManyRequests {
				return Permanent(err)
			}
			return err
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	if f.cache != nil {
		if err := f.cache.Set(url, body); err != nil {
			f.log.Warn("cache write failed", zap.String("url", url), zap.Error(err))
		}
	}
	return body, nil
}
