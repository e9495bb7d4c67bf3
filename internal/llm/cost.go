package llm

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/zulandar/roundhouse/internal/models"
	"gorm.io/gorm"
)

// DefaultRate is the per-1K-token cost applied to models without a rate.
const DefaultRate = 0.002

// DefaultRates are per-1K-token costs in USD.
var DefaultRates = map[string]float64{
	"gpt-4o":            0.005,
	"deepseek-reasoner": 0.001,
	"gpt-3.5-turbo":     0.0015,
}

// CostTracker accumulates token spend across gateway calls. When a DB is
// configured each call is also written as a GenerationLog row.
type CostTracker struct {
	mu    sync.Mutex
	total float64
	calls int
	rates map[string]float64
	db    *gorm.DB
	out   io.Writer
}

// CostTrackerOpts holds parameters for creating a CostTracker.
type CostTrackerOpts struct {
	Rates map[string]float64 // defaults to DefaultRates
	DB    *gorm.DB           // optional
	Out   io.Writer          // defaults to os.Stdout
}

// NewCostTracker creates a CostTracker.
func NewCostTracker(opts CostTrackerOpts) *CostTracker {
	rates := opts.Rates
	if rates == nil {
		rates = DefaultRates
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &CostTracker{rates: rates, db: opts.DB, out: out}
}

// Track records a call and returns its cost. A nil tracker is a no-op.
func (t *CostTracker) Track(ctx context.Context, provider, model string, tokens int, latency time.Duration) float64 {
	if t == nil {
		return 0
	}
	rate, ok := t.rates[model]
	if !ok {
		rate = DefaultRate
	}
	cost := float64(tokens) / 1000 * rate

	t.mu.Lock()
	t.total += cost
	t.calls++
	total := t.total
	t.mu.Unlock()

	fmt.Fprintf(t.out, "llm: cost: %s - %d tokens - $%.4f (total $%.4f)\n", model, tokens, cost, total)

	if t.db != nil {
		row := models.GenerationLog{
			Provider:  provider,
			Model:     model,
			Tokens:    tokens,
			Cost:      cost,
			LatencyMs: int(latency.Milliseconds()),
		}
		if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
			log.Printf("llm: cost: write generation log: %v", err)
		}
	}
	return cost
}

// Total returns the accumulated cost.
func (t *CostTracker) Total() float64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Calls returns the number of tracked calls.
func (t *CostTracker) Calls() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Reset clears the running totals.
func (t *CostTracker) Reset() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = 0
	t.calls = 0
}
