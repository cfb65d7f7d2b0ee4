package remote

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Strategy is how a command is fanned out to hosts
type Strategy string

const (
	StrategySerial   Strategy = "serial"
	StrategyParallel Strategy = "parallel"
)

// ParseStrategy accepts "serial", "parallel" or "" (serial)
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategySerial:
		return StrategySerial, nil
	case StrategyParallel:
		return StrategyParallel, nil
	default:
		return "", fmt.Errorf("unknown execution strategy %q", s)
	}
}

// fanOut runs fn for every host. Serial stops at the first failure;
// parallel waits for every host and returns the first failure.
func fanOut(ctx context.Context, strategy Strategy, hosts []Host, fn func(ctx context.Context, h Host) error) error {
	if strategy != StrategyParallel {
		for _, h := range hosts {
			if err := fn(ctx, h); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range hosts {
		h := h
		g.Go(func() error {
			return fn(gctx, h)
		})
	}
	return g.Wait()
}
