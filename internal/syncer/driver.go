package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"
)

// Driver runs one engine per AMM on a bounded worker pool, forever. One AMM
// failing a cycle never blocks the others; its error is logged and the AMM is
// retried on the next pass.
type Driver struct {
	engines  []*Engine
	workers  pond.Pool
	interval time.Duration
	logger   *zap.Logger
}

func NewDriver(engines []*Engine, maxConcurrent int, interval time.Duration, logger *zap.Logger) (*Driver, error) {
	if len(engines) == 0 {
		return nil, fmt.Errorf("no engines configured")
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Driver{
		engines:  engines,
		workers:  pond.NewPool(maxConcurrent),
		interval: interval,
		logger:   logger,
	}, nil
}

// Run cycles every engine on the poll interval until the context is
// cancelled. A pass with failures does not stop the loop.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if err := d.RunOnce(ctx); err != nil {
			d.logger.Error("sync pass had failures", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce cycles every engine concurrently and returns the joined errors of
// the engines that failed.
func (d *Driver) RunOnce(ctx context.Context) error {
	group := d.workers.NewGroupContext(ctx)

	var (
		mu   sync.Mutex
		errs []error
	)
	for _, engine := range d.engines {
		engine := engine
		group.SubmitErr(func() error {
			if err := engine.RunCycle(ctx); err != nil {
				engine.logger.Error("sync cycle failed", zap.Error(err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", engine.pool.VAMMAddress, err))
				mu.Unlock()
			}
			// Failures are collected, not returned, so one AMM never
			// stops the group.
			return nil
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	mu.Lock()
	defer mu.Unlock()
	return errors.Join(errs...)
}

// Close drains the worker pool.
func (d *Driver) Close() {
	d.workers.StopAndWait()
}
