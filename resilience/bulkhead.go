package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/kbukum/mmalkit/errors"
)

// BulkheadConfig configures a bulkhead.
type BulkheadConfig struct {
	Name          string `mapstructure:"-"`
	MaxConcurrent int    `mapstructure:"max_concurrent" validate:"gte=0"`
	// MaxWait is how long a call waits for a slot. Zero rejects at once.
	MaxWait time.Duration `mapstructure:"max_wait"`

	OnReject func(name string) `mapstructure:"-"`
}

// DefaultBulkheadConfig allows one call at a time and rejects the rest.
func DefaultBulkheadConfig(name string) BulkheadConfig {
	return BulkheadConfig{Name: name, MaxConcurrent: 1}
}

// Bulkhead caps how many calls run concurrently.
type Bulkhead struct {
	config BulkheadConfig
	sem    chan struct{}
}

func NewBulkhead(config BulkheadConfig) *Bulkhead {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	return &Bulkhead{
		config: config,
		sem:    make(chan struct{}, config.MaxConcurrent),
	}
}

// Execute runs fn in a slot. A full bulkhead yields SERVICE_UNAVAILABLE.
func (b *Bulkhead) Execute(ctx context.Context, fn func() error) error {
	if err := b.acquire(ctx); err != nil {
		if b.config.OnReject != nil {
			b.config.OnReject(b.config.Name)
		}
		return err
	}
	defer func() { <-b.sem }()
	return fn()
}

func (b *Bulkhead) acquire(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		return nil
	default:
	}
	full := errors.Unavailable(fmt.Sprintf("%s is busy", b.config.Name)).
		WithDetail("max_concurrent", b.config.MaxConcurrent)
	if b.config.MaxWait <= 0 {
		return full
	}

	timer := time.NewTimer(b.config.MaxWait)
	defer timer.Stop()
	select {
	case b.sem <- struct{}{}:
		return nil
	case <-timer.C:
		return full
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bulkhead) Available() int { return b.config.MaxConcurrent - len(b.sem) }

func (b *Bulkhead) InUse() int { return len(b.sem) }
