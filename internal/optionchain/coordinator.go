package optionchain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Coordinator owns one chain per underlying.
type Coordinator struct {
	logger *slog.Logger

	mu     sync.RWMutex
	chains map[string]*Chain
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		logger: logger,
		chains: make(map[string]*Chain),
	}
}

// Add registers ch. A second chain for the same underlying is rejected.
func (co *Coordinator) Add(ch *Chain) error {
	key := ch.Underlying()

	co.mu.Lock()
	defer co.mu.Unlock()

	if _, exists := co.chains[key]; exists {
		return fmt.Errorf("chain for %s already registered", key)
	}
	co.chains[key] = ch
	return nil
}

// Get returns the chain for underlying, matched case-insensitively.
func (co *Coordinator) Get(underlying string) (*Chain, error) {
	co.mu.RLock()
	ch, ok := co.chains[strings.ToUpper(underlying)]
	co.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUnderlying, underlying)
	}
	return ch, nil
}

// Underlyings returns the registered underlyings in sorted order.
func (co *Coordinator) Underlyings() []string {
	co.mu.RLock()
	defer co.mu.RUnlock()

	names := make([]string, 0, len(co.chains))
	for name := range co.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InitializeAll initializes every chain concurrently. It waits for all of
// them and returns the first error; chains that succeeded stay live.
func (co *Coordinator) InitializeAll(ctx context.Context) error {
	var g errgroup.Group
	for _, ch := range co.snapshotChains() {
		g.Go(func() error {
			if err := ch.Initialize(ctx); err != nil {
				co.logger.Error("option chain initialization failed",
					"underlying", ch.Underlying(),
					"error", err,
				)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// InitializePending retries Initialize on every chain that is not yet built,
// for example because the broker was unreachable at startup. It returns how
// many chains came up on this call and the first error.
func (co *Coordinator) InitializePending(ctx context.Context) (int, error) {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		done int
	)
	for _, ch := range co.snapshotChains() {
		if ch.Initialized() {
			continue
		}
		g.Go(func() error {
			err := ch.Initialize(ctx)
			switch {
			case errors.Is(err, ErrAlreadyInitialized):
				return nil
			case err != nil:
				co.logger.Warn("option chain still not initialized",
					"underlying", ch.Underlying(),
					"error", err,
				)
				return err
			}
			co.logger.Info("option chain initialized on retry", "underlying", ch.Underlying())
			mu.Lock()
			done++
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return done, err
}

// snapshotChains returns the chains in underlying order.
func (co *Coordinator) snapshotChains() []*Chain {
	co.mu.RLock()
	defer co.mu.RUnlock()

	chains := make([]*Chain, 0, len(co.chains))
	for _, ch := range co.chains {
		chains = append(chains, ch)
	}
	sort.Slice(chains, func(i, j int) bool {
		return chains[i].Underlying() < chains[j].Underlying()
	})
	return chains
}
