package llmloop

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"
)

// ErrRateLimited signals that a Provider call failed because the backend
// itself reported rate limiting, distinct from the local limiter's own
// blocking (which simply delays the call rather than failing it).
var ErrRateLimited = errors.New("llmloop: rate limited")

// AdaptiveRateLimiter applies an AIMD-style adaptive token bucket in front of
// a Provider: it estimates the token cost of each request, blocks callers
// until capacity is available, and shrinks its effective tokens-per-minute
// budget when the wrapped Provider reports ErrRateLimited, recovering
// gradually on successful calls. Grounded on
// features/model/middleware.AdaptiveRateLimiter, keeping only its
// process-local AIMD mechanics; its Pulse/rmap cluster-coordination half is
// dropped since Pulse is not part of this module's dependency set (spec's
// concurrency model in §5 is single-process per agent).
type AdaptiveRateLimiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64
}

// NewAdaptiveRateLimiter builds a limiter with an initial tokens-per-minute
// budget, capped at maxTPM (clamped to initialTPM if given lower or zero).
func NewAdaptiveRateLimiter(initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &AdaptiveRateLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Wrap returns a Provider that enforces this limiter in front of next.
func (l *AdaptiveRateLimiter) Wrap(next Provider) Provider {
	if next == nil {
		return nil
	}
	return &limitedProvider{next: next, limiter: l}
}

type limitedProvider struct {
	next    Provider
	limiter *AdaptiveRateLimiter
}

func (p *limitedProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	if err := p.limiter.wait(ctx, req); err != nil {
		return GenerateResponse{}, err
	}
	resp, err := p.next.Generate(ctx, req)
	p.limiter.observe(err)
	return resp, err
}

func (l *AdaptiveRateLimiter) wait(ctx context.Context, req GenerateRequest) error {
	return l.limiter.WaitN(ctx, estimateTokens(req))
}

func (l *AdaptiveRateLimiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if errors.Is(err, ErrRateLimited) {
		l.backoff()
	}
}

func (l *AdaptiveRateLimiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	l.setTPMLocked(newTPM)
}

func (l *AdaptiveRateLimiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	l.setTPMLocked(newTPM)
}

func (l *AdaptiveRateLimiter) setTPMLocked(tpm float64) {
	if tpm == l.currentTPM {
		return
	}
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
}

// estimateTokens is a cheap character-count heuristic for the token cost of
// one GenerateRequest, used only to size the rate limiter's wait.
func estimateTokens(req GenerateRequest) int {
	charCount := len(req.System)
	for _, m := range req.Messages {
		charCount += len(m.Content)
	}
	if charCount <= 0 {
		return 500
	}
	tokens := charCount / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}
