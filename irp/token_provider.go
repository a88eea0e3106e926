package irp

import (
	"context"
	"sync"
	"time"

	"github.com/alapierre/go-irp-client/irp/metrics"
	"github.com/alapierre/go-irp-client/irp/model"
	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
)

// DefaultTokenSafetyMargin is the fraction of the declared lifetime after which a token is renewed.
const DefaultTokenSafetyMargin = 0.9

type TokenState int

const (
	Unauthenticated TokenState = iota
	Authenticated
	Expired
)

func (s TokenState) String() string {
	switch s {
	case Authenticated:
		return "AUTHENTICATED"
	case Expired:
		return "EXPIRED"
	}
	return "UNAUTHENTICATED"
}

// Authenticator performs the credential exchange against the auth endpoint.
type Authenticator interface {
	Authenticate(ctx context.Context) (*model.AuthResponse, error)
}

// TokenProvider caches one bearer token per credential set and renews it
// once DefaultTokenSafetyMargin of its lifetime has passed.
type TokenProvider struct {
	auth    Authenticator
	clock   clockwork.Clock
	margin  float64
	metrics *metrics.Metrics

	mu    sync.Mutex
	token *bearerToken
}

// bearerToken is replaced on renewal, never mutated.
type bearerToken struct {
	value     string
	expiresAt time.Time
	renewAt   time.Time
}

type TokenOption func(*TokenProvider)

func WithTokenClock(c clockwork.Clock) TokenOption {
	return func(p *TokenProvider) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithSafetyMargin overrides DefaultTokenSafetyMargin; values outside (0, 1] are ignored.
func WithSafetyMargin(m float64) TokenOption {
	return func(p *TokenProvider) {
		if m > 0 && m <= 1 {
			p.margin = m
		}
	}
}

func WithTokenMetrics(m *metrics.Metrics) TokenOption {
	return func(p *TokenProvider) {
		p.metrics = m
	}
}

func NewTokenProvider(auth Authenticator, opts ...TokenOption) *TokenProvider {
	p := &TokenProvider{
		auth:   auth,
		clock:  clockwork.NewRealClock(),
		margin: DefaultTokenSafetyMargin,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Token returns a valid bearer token, authenticating when there is none,
// when the cached one passed its renewal point or when ctx forces it.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	force := IsForceAuth(ctx)

	// fast path
	if !force {
		if token, ok := p.currentIfValid(); ok {
			return token, nil
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// double check after taking the lock, another caller may have renewed it
	if !force {
		if token, ok := p.currentIfValidLocked(); ok {
			return token, nil
		}
	}

	return p.authenticateLocked(ctx)
}

func (p *TokenProvider) currentIfValid() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentIfValidLocked()
}

// caller holds p.mu
func (p *TokenProvider) currentIfValidLocked() (string, bool) {
	if p.token == nil || p.token.value == "" {
		return "", false
	}
	if !p.clock.Now().Before(p.token.renewAt) {
		return "", false
	}
	return p.token.value, true
}

func (p *TokenProvider) authenticateLocked(ctx context.Context) (string, error) {
	logger.Debug("TokenProvider: performing authentication")

	res, err := p.auth.Authenticate(ctx)
	if err != nil {
		p.token = nil
		p.metrics.IncrementTokenAcquisition(false)
		return "", authFailure(ctx, err)
	}
	if res == nil || res.AccessToken == "" || res.ExpiresIn <= 0 {
		p.token = nil
		p.metrics.IncrementTokenAcquisition(false)
		return "", &ApiError{Kind: KindAuthentication, Op: OpAuth, Message: "auth response carries no usable token"}
	}

	now := p.clock.Now()
	lifetime := time.Duration(res.ExpiresIn) * time.Second
	p.token = &bearerToken{
		value:     res.AccessToken,
		expiresAt: now.Add(lifetime),
		renewAt:   now.Add(time.Duration(float64(lifetime) * p.margin)),
	}
	p.metrics.IncrementTokenAcquisition(true)
	logger.Debugf("TokenProvider: token acquired, renewal at %s", p.token.renewAt.UTC().Format(time.RFC3339))
	return res.AccessToken, nil
}

// authFailure makes every failed credential exchange an authentication error,
// except caller cancellation which stays distinguishable.
func authFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return canceledError(OpAuth, ctx.Err())
	}
	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		if apiErr.Kind == KindAuthentication || apiErr.Kind == KindCanceled {
			return apiErr
		}
		cp := *apiErr
		cp.Kind = KindAuthentication
		return &cp
	}
	return &ApiError{Kind: KindAuthentication, Op: OpAuth, Message: "authentication failed", Err: err}
}

// ClearAuth discards the cached token; the next call authenticates again.
func (p *TokenProvider) ClearAuth() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = nil
}

func (p *TokenProvider) State() TokenState {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.token == nil:
		return Unauthenticated
	case !p.clock.Now().Before(p.token.renewAt):
		return Expired
	}
	return Authenticated
}

// ExpiresAt is the declared expiry of the cached token, zero when there is none.
func (p *TokenProvider) ExpiresAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == nil {
		return time.Time{}
	}
	return p.token.expiresAt
}
