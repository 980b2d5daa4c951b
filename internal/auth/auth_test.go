package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestStatic(t *testing.T) {
	token, err := Static(" abc \n").AccessToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "abc" {
		t.Errorf("token = %q, want %q", token, "abc")
	}

	token, _ = Static("").AccessToken(context.Background())
	if token != "" {
		t.Errorf("token = %q, want empty", token)
	}
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("GROUPSHARE_TEST_TOKEN", "from-env")

	token, err := EnvProvider{Name: "GROUPSHARE_TEST_TOKEN"}.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "from-env" {
		t.Errorf("token = %q, want %q", token, "from-env")
	}

	token, err = EnvProvider{Name: "GROUPSHARE_TEST_TOKEN_UNSET"}.AccessToken(context.Background())
	if err != nil || token != "" {
		t.Errorf("unset variable: token = %q, err = %v", token, err)
	}
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")

	p := FileProvider{Path: path}

	// Missing file is "not signed in", not an error.
	token, err := p.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("missing file: unexpected error: %v", err)
	}
	if token != "" {
		t.Errorf("missing file: token = %q, want empty", token)
	}

	if err := os.WriteFile(path, []byte("file-token\n"), 0600); err != nil {
		t.Fatalf("failed to write token: %v", err)
	}
	token, err = p.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "file-token" {
		t.Errorf("token = %q, want %q", token, "file-token")
	}

	// Rotation is picked up on the next call.
	if err := os.WriteFile(path, []byte("rotated"), 0600); err != nil {
		t.Fatalf("failed to write token: %v", err)
	}
	token, _ = p.AccessToken(context.Background())
	if token != "rotated" {
		t.Errorf("token = %q, want %q", token, "rotated")
	}

	// A directory cannot be read as a token.
	if _, err := (FileProvider{Path: dir}).AccessToken(context.Background()); err == nil {
		t.Error("expected error reading a directory")
	}
}

// countingProvider returns tokens[i] on the i-th call (last one repeats).
type countingProvider struct {
	mu     sync.Mutex
	tokens []string
	err    error
	calls  int
	delay  time.Duration
}

func (p *countingProvider) AccessToken(ctx context.Context) (string, error) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	i := min(p.calls-1, len(p.tokens)-1)
	return p.tokens[i], nil
}

func (p *countingProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func signedJWT(t *testing.T, expires time.Time) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func TestCachingProvider_OpaqueToken(t *testing.T) {
	source := &countingProvider{tokens: []string{"opaque-1", "opaque-2"}}
	p := NewCachingProvider(source)

	for i := 0; i < 3; i++ {
		token, err := p.AccessToken(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if token != "opaque-1" {
			t.Errorf("token = %q, want opaque-1", token)
		}
	}
	if source.count() != 1 {
		t.Errorf("source calls = %d, want 1", source.count())
	}

	p.Invalidate()

	token, _ := p.AccessToken(context.Background())
	if token != "opaque-2" {
		t.Errorf("token after Invalidate = %q, want opaque-2", token)
	}
	if source.count() != 2 {
		t.Errorf("source calls = %d, want 2", source.count())
	}
}

func TestCachingProvider_JWTExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	first := signedJWT(t, now.Add(10*time.Minute))
	second := signedJWT(t, now.Add(time.Hour))
	source := &countingProvider{tokens: []string{first, second}}

	p := NewCachingProvider(source, WithNow(clock), WithRefreshSkew(time.Minute))

	token, err := p.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != first {
		t.Error("expected first token")
	}
	if !p.Expires().Equal(now.Add(10 * time.Minute)) {
		t.Errorf("Expires() = %v, want %v", p.Expires(), now.Add(10*time.Minute))
	}

	// Still fresh 8 minutes later.
	now = now.Add(8 * time.Minute)
	token, _ = p.AccessToken(context.Background())
	if token != first || source.count() != 1 {
		t.Errorf("expected cached token, source calls = %d", source.count())
	}

	// Within the skew: refresh.
	now = now.Add(90 * time.Second)
	token, _ = p.AccessToken(context.Background())
	if token != second {
		t.Error("expected refreshed token")
	}
	if source.count() != 2 {
		t.Errorf("source calls = %d, want 2", source.count())
	}
}

func TestCachingProvider_ExpiredTokenNotCached(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	expired := signedJWT(t, now.Add(-time.Minute))
	source := &countingProvider{tokens: []string{expired}}

	p := NewCachingProvider(source, WithNow(func() time.Time { return now }))

	for i := 0; i < 2; i++ {
		token, err := p.AccessToken(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if token != expired {
			t.Error("expected the source token to be returned")
		}
	}
	if source.count() != 2 {
		t.Errorf("source calls = %d, want 2", source.count())
	}
}

func TestCachingProvider_EmptyAndError(t *testing.T) {
	empty := &countingProvider{tokens: []string{""}}
	p := NewCachingProvider(empty)

	token, err := p.AccessToken(context.Background())
	if err != nil || token != "" {
		t.Errorf("token = %q, err = %v, want empty and nil", token, err)
	}
	p.AccessToken(context.Background())
	if empty.count() != 2 {
		t.Errorf("empty tokens must not be cached, source calls = %d", empty.count())
	}

	boom := errors.New("keychain locked")
	failing := NewCachingProvider(&countingProvider{err: boom})
	if _, err := failing.AccessToken(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected wrapped source error, got %v", err)
	}
}

func TestCachingProvider_ConcurrentRefresh(t *testing.T) {
	source := &countingProvider{tokens: []string{"shared"}, delay: 50 * time.Millisecond}
	p := NewCachingProvider(source)

	var wg sync.WaitGroup
	var mismatches atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := p.AccessToken(context.Background())
			if err != nil || token != "shared" {
				mismatches.Add(1)
			}
		}()
	}
	wg.Wait()

	if mismatches.Load() != 0 {
		t.Errorf("%d callers got the wrong token", mismatches.Load())
	}
	if source.count() > 2 {
		t.Errorf("source calls = %d, expected refreshes to be shared", source.count())
	}
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)

	if got := tokenExpiry(signedJWT(t, exp)); !got.Equal(exp) {
		t.Errorf("tokenExpiry = %v, want %v", got, exp)
	}
	if got := tokenExpiry("not-a-jwt"); !got.IsZero() {
		t.Errorf("opaque token expiry = %v, want zero", got)
	}

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1"}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	if got := tokenExpiry(noExp); !got.IsZero() {
		t.Errorf("token without exp = %v, want zero", got)
	}
}
