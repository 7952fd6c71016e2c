package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/pawnfiddle/backend/internal/infrastructure/logging"
	"github.com/pawnfiddle/backend/internal/infrastructure/monitoring"
	"github.com/pawnfiddle/backend/internal/infrastructure/resilience"
	"github.com/pawnfiddle/backend/internal/shared/id"
)

var (
	// ErrTimeout is returned when no token arrives within the wait limit.
	ErrTimeout = errors.New("verification timed out")
	// ErrTokenAlreadyUsed is returned when a token is validated twice.
	ErrTokenAlreadyUsed = errors.New("verification token already used")
	// ErrTokenInvalid is returned when the provider rejects the token.
	ErrTokenInvalid = errors.New("verification token invalid")
	// ErrProviderUnavailable is returned while the provider circuit is open.
	ErrProviderUnavailable = errors.New("verification provider unavailable")
)

// Config configures the gate.
type Config struct {
	// Secret authenticates this backend to the challenge provider. When
	// empty the provider call is skipped and any non-empty token passes
	// (local development).
	Secret    string
	SiteKey   string
	VerifyURL string
	WaitLimit time.Duration
}

// Gate validates single-use human-verification tokens against an external
// challenge provider and parks share requests until a token arrives for
// their connection.
type Gate struct {
	cfg     Config
	client  *retryablehttp.Client
	breaker *resilience.Breaker
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu       sync.Mutex
	waits    map[id.ConnID]chan string
	consumed map[string]time.Time
}

// NewGate creates a gate. metrics may be nil.
func NewGate(cfg Config, logger *logging.Logger, metrics *monitoring.Metrics) *Gate {
	if cfg.WaitLimit == 0 {
		cfg.WaitLimit = time.Hour
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	breaker := resilience.New("verify-provider", resilience.Settings{
		Timeout: 30 * time.Second,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("provider circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &Gate{
		cfg:      cfg,
		client:   client,
		breaker:  breaker,
		logger:   logger,
		metrics:  metrics,
		waits:    make(map[id.ConnID]chan string),
		consumed: make(map[string]time.Time),
	}
}

// IssueChallenge returns the opaque challenge reference the client needs to
// render the provider's widget.
func (g *Gate) IssueChallenge() string {
	return g.cfg.SiteKey
}

// AwaitToken suspends the caller until a token arrives for the connection
// or the wait limit elapses. The wait registration is dropped on timeout so
// a late token is discarded rather than resolving an abandoned wait.
func (g *Gate) AwaitToken(ctx context.Context, connID id.ConnID) (string, error) {
	ch := make(chan string, 1)

	g.mu.Lock()
	// A new wait supersedes any previous one for the connection.
	g.waits[connID] = ch
	g.mu.Unlock()
	g.metrics.AddVerificationWaits(1)
	defer g.metrics.AddVerificationWaits(-1)

	timer := time.NewTimer(g.cfg.WaitLimit)
	defer timer.Stop()

	select {
	case token, ok := <-ch:
		if !ok {
			// Dropped: the issuing connection went away, so the token
			// can never arrive.
			return "", ErrTimeout
		}
		return token, nil
	case <-timer.C:
		g.drop(connID, ch)
		return "", ErrTimeout
	case <-ctx.Done():
		g.drop(connID, ch)
		return "", ctx.Err()
	}
}

// Deliver resolves a pending wait for the connection. Tokens arriving with
// no registered wait are discarded.
func (g *Gate) Deliver(connID id.ConnID, token string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch, ok := g.waits[connID]
	if !ok {
		return false
	}
	delete(g.waits, connID)
	ch <- token
	return true
}

// Drop discards any pending wait for the connection, used on disconnect.
// The waiter resolves immediately with a timeout instead of holding the
// registration open for a token that can never arrive.
func (g *Gate) Drop(connID id.ConnID) {
	g.mu.Lock()
	ch, ok := g.waits[connID]
	if ok {
		delete(g.waits, connID)
	}
	g.mu.Unlock()
	if ok {
		close(ch)
	}
}

// drop removes the registration only if it still belongs to this wait.
func (g *Gate) drop(connID id.ConnID, ch chan string) {
	g.mu.Lock()
	if cur, ok := g.waits[connID]; ok && cur == ch {
		delete(g.waits, connID)
	}
	g.mu.Unlock()
}

// Validate consumes the token: the first successful validation wins, any
// later validation of the same token fails with ErrTokenAlreadyUsed.
func (g *Gate) Validate(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrTokenInvalid
	}

	key := tokenKey(token)
	g.mu.Lock()
	if _, used := g.consumed[key]; used {
		g.mu.Unlock()
		return ErrTokenAlreadyUsed
	}
	// Claim before the provider round trip so a concurrent validation of
	// the same token cannot also succeed.
	g.consumed[key] = time.Now()
	g.pruneLocked()
	g.mu.Unlock()

	if err := g.check(ctx, token); err != nil {
		g.mu.Lock()
		delete(g.consumed, key)
		g.mu.Unlock()
		return err
	}
	return nil
}

// check performs the provider round trip behind the circuit breaker. A
// rejected token counts as a breaker success: the provider answered.
func (g *Gate) check(ctx context.Context, token string) error {
	if g.cfg.Secret == "" {
		return nil
	}

	var rejected error
	err := g.breaker.Do(func() error {
		err := g.roundTrip(ctx, token)
		if errors.Is(err, ErrTokenInvalid) {
			rejected = err
			return nil
		}
		return err
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
			return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return err
	}
	return rejected
}

func (g *Gate) roundTrip(ctx context.Context, token string) error {
	form := url.Values{}
	form.Set("secret", g.cfg.Secret)
	form.Set("response", token)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, g.cfg.VerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build verification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("verification provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Success    bool     `json:"success"`
		ErrorCodes []string `json:"error-codes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode verification response: %w", err)
	}
	if !body.Success {
		g.logger.Warn("verification rejected", zap.Strings("codes", body.ErrorCodes))
		return ErrTokenInvalid
	}
	return nil
}

// pruneLocked evicts consumed-token entries past any plausible replay
// window. Caller holds g.mu.
func (g *Gate) pruneLocked() {
	cutoff := time.Now().Add(-24 * time.Hour)
	for k, at := range g.consumed {
		if at.Before(cutoff) {
			delete(g.consumed, k)
		}
	}
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
