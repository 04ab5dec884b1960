package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scentfinder-crawler/internal/crawler"
	"github.com/JakeFAU/scentfinder-crawler/internal/logging"
	"github.com/JakeFAU/scentfinder-crawler/internal/metrics"
)

// BudgetConfig configures a Budget.
type BudgetConfig struct {
	Threshold int
	Cooldown  time.Duration
}

// Budget counts fetch attempts since the last cooldown and decides when the
// crawler has to back off.
type Budget struct {
	threshold int
	cooldown  time.Duration
	sleeper   crawler.Sleeper
	logger    *zap.Logger

	mu      sync.Mutex
	count   int
	flagged bool
}

// NewBudget creates a Budget. The sleeper performs the cooldown pause.
func NewBudget(cfg BudgetConfig, sleeper crawler.Sleeper, logger *zap.Logger) (*Budget, error) {
	if cfg.Threshold <= 0 {
		return nil, fmt.Errorf("budget threshold must be > 0")
	}
	if cfg.Cooldown <= 0 {
		return nil, fmt.Errorf("budget cooldown must be > 0")
	}
	if sleeper == nil {
		return nil, fmt.Errorf("budget sleeper is required")
	}
	return &Budget{
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		sleeper:   sleeper,
		logger:    logging.OrNop(logger),
	}, nil
}

// Record counts one outbound fetch attempt.
func (b *Budget) Record() {
	b.mu.Lock()
	b.count++
	b.mu.Unlock()
}

// Flag records a bot-defense signal; the next ShouldCooldown reports true.
func (b *Budget) Flag() {
	b.mu.Lock()
	b.flagged = true
	b.mu.Unlock()
}

// ShouldCooldown reports whether the threshold was exceeded or a defense
// signal was flagged since the last reset.
func (b *Budget) ShouldCooldown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flagged || b.count > b.threshold
}

// Count returns the attempts recorded since the last reset.
func (b *Budget) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Reset zeroes the counter and clears any flagged signal.
func (b *Budget) Reset() {
	b.mu.Lock()
	b.count = 0
	b.flagged = false
	b.mu.Unlock()
}

// Cooldown pauses for the configured interval and then resets the budget.
// A canceled context aborts the pause and leaves the budget untouched.
func (b *Budget) Cooldown(ctx context.Context) error {
	b.mu.Lock()
	count, flagged := b.count, b.flagged
	b.mu.Unlock()

	b.logger.Warn("request budget exhausted, cooling down",
		zap.Int("attempts", count),
		zap.Bool("defense_signal", flagged),
		zap.Duration("cooldown", b.cooldown),
	)
	metrics.ObserveCooldown()
	if err := b.sleeper.Sleep(ctx, b.cooldown); err != nil {
		return fmt.Errorf("cooldown: %w", err)
	}
	b.Reset()
	return nil
}
