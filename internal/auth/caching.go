package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshSkew is how long before expiry a cached token is refreshed.
const DefaultRefreshSkew = 30 * time.Second

// CachingProvider caches the token from a source Provider. JWTs are reused
// until DefaultRefreshSkew (or the configured skew) before their exp claim;
// opaque tokens are reused until Invalidate. Concurrent refreshes share one
// call to the source.
type CachingProvider struct {
	source Provider
	skew   time.Duration
	now    func() time.Time
	logger *slog.Logger

	group singleflight.Group

	mu      sync.Mutex
	token   string
	expires time.Time // Zero when the token has no exp claim
}

// CacheOption configures a CachingProvider.
type CacheOption func(*CachingProvider)

// WithRefreshSkew sets how early a token is refreshed.
func WithRefreshSkew(skew time.Duration) CacheOption {
	return func(p *CachingProvider) {
		if skew >= 0 {
			p.skew = skew
		}
	}
}

// WithNow replaces time.Now.
func WithNow(now func() time.Time) CacheOption {
	return func(p *CachingProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) CacheOption {
	return func(p *CachingProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewCachingProvider wraps source.
func NewCachingProvider(source Provider, opts ...CacheOption) *CachingProvider {
	p := &CachingProvider{
		source: source,
		skew:   DefaultRefreshSkew,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AccessToken returns the cached token or fetches a fresh one.
func (p *CachingProvider) AccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.token != "" && p.usableLocked() {
		token := p.token
		p.mu.Unlock()
		return token, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do("token", func() (any, error) {
		return p.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next call goes to the source.
func (p *CachingProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
	p.expires = time.Time{}
}

// Expires returns the cached token's expiry, or the zero time.
func (p *CachingProvider) Expires() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expires
}

func (p *CachingProvider) usableLocked() bool {
	return p.expires.IsZero() || p.now().Add(p.skew).Before(p.expires)
}

func (p *CachingProvider) refresh(ctx context.Context) (string, error) {
	token, err := p.source.AccessToken(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	if token == "" {
		return "", nil
	}

	expires := tokenExpiry(token)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.token = token
	p.expires = expires
	if !p.usableLocked() {
		// Hand it out once; the next call asks the source again.
		p.token = ""
		p.logger.Warn("access token expires within refresh skew",
			"expires", expires,
			"skew", p.skew,
		)
		return token, nil
	}

	if !expires.IsZero() {
		p.logger.Debug("access token refreshed", "expires", expires)
	}
	return token, nil
}

// tokenExpiry reads the exp claim without verifying the signature. Opaque
// tokens and tokens without exp return the zero time.
func tokenExpiry(token string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
