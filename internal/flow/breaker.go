package flow

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultBreakerCooldown is how long the AI provider stays marked unavailable
// after a quota error.
const DefaultBreakerCooldown = 5 * time.Minute

// quotaIndicators are matched case-insensitively against provider error text
// to distinguish quota exhaustion from transient failures.
var quotaIndicators = []string{
	"429", "quota", "rate limit", "resourceexhausted",
	"billing", "exceeded", "too many requests",
}

// IsQuotaError reports whether err looks like a quota or rate-limit failure.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, indicator := range quotaIndicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}

// Breaker tracks temporary AI provider unavailability after quota errors.
// A tripped breaker suppresses provider calls until the cooldown elapses;
// the next check past the deadline resets it. Safe for concurrent use.
type Breaker struct {
	mu               sync.Mutex
	cooldown         time.Duration
	unavailableUntil time.Time
	now              func() time.Time
}

// NewBreaker creates a breaker with the given cooldown. A zero cooldown uses
// DefaultBreakerCooldown.
func NewBreaker(cooldown time.Duration) *Breaker {
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}
	return &Breaker{cooldown: cooldown, now: time.Now}
}

// Trip marks the provider unavailable for the cooldown window.
func (b *Breaker) Trip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unavailableUntil = b.now().Add(b.cooldown)
	slog.Warn("AI provider marked unavailable", "until", b.unavailableUntil)
}

// Unavailable reports whether the provider is currently suppressed. Crossing
// the cooldown deadline resets the breaker as a side effect.
func (b *Breaker) Unavailable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unavailableUntil.IsZero() {
		return false
	}
	if b.now().After(b.unavailableUntil) {
		b.unavailableUntil = time.Time{}
		slog.Info("AI provider availability restored")
		return false
	}
	return true
}
