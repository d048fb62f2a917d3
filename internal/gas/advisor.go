// Package gas recommends gas parameters per network. The advisor is purely
// computational: it maintains an in-memory rolling window of observed prices
// plus a congestion estimate, and always answers within bounded time using
// per-network defaults when the window is cold.
package gas

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
)

// Congestion multiplier schedule. The result is additionally clamped to
// [0.8x, 1.5x] of the observed price and to the network's hard ceiling.
const (
	multiplierHigh     = 1.2 // congestion > 0.8
	multiplierElevated = 1.1 // congestion > 0.6
	multiplierLow      = 0.9 // congestion < 0.3
	clampFloor         = 0.8
	clampCeil          = 1.5
	// limitBuffer is the safety margin applied to cached gas limits.
	limitBuffer = 1.05
)

// NetworkDefaults seeds recommendations before any price observation.
type NetworkDefaults struct {
	GasPriceWei    uint64
	PriorityFeeWei uint64
	CeilingWei     uint64
}

// Config configures the advisor.
type Config struct {
	// WindowSize bounds the rolling price window per network.
	WindowSize int
	// MaxGasLimit caps every recommended gas limit.
	MaxGasLimit uint64
	// Defaults holds per-network fallbacks; a network absent from the map
	// uses zero-value defaults and relies entirely on observations.
	Defaults map[string]NetworkDefaults
}

type networkState struct {
	window     []uint64 // ring buffer of observed prices
	next       int
	filled     bool
	congestion float64
	// congestionKnown separates a genuinely quiet network from one that
	// has never reported; an unknown estimate applies no multiplier.
	congestionKnown bool
}

// Advisor recommends gas price, priority fee, and gas limit per network.
type Advisor struct {
	mu       sync.Mutex
	cfg      Config
	networks map[string]*networkState
	// limits caches the last granted gas limit per (network, pair).
	limits map[string]uint64
	logger *slog.Logger
}

// NewAdvisor creates an Advisor.
func NewAdvisor(cfg Config, logger *slog.Logger) *Advisor {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 50
	}
	return &Advisor{
		cfg:      cfg,
		networks: make(map[string]*networkState),
		limits:   make(map[string]uint64),
		logger:   logger.With(slog.String("component", "gas_advisor")),
	}
}

// ObservePrice appends an observed gas price to the network's rolling window.
func (a *Advisor) ObservePrice(network string, priceWei uint64) {
	if priceWei == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.state(network)
	if len(st.window) < a.cfg.WindowSize {
		st.window = append(st.window, priceWei)
		return
	}
	st.window[st.next] = priceWei
	st.next = (st.next + 1) % a.cfg.WindowSize
	st.filled = true
}

// SetCongestion updates the network's congestion estimate, clamped to [0,1].
func (a *Advisor) SetCongestion(network string, congestion float64) {
	if congestion < 0 {
		congestion = 0
	}
	if congestion > 1 {
		congestion = 1
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.state(network)
	st.congestion = congestion
	st.congestionKnown = true
}

// Congestion returns the network's current congestion estimate.
func (a *Advisor) Congestion(network string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state(network).congestion
}

// Recommend returns gas parameters for one operation on the given network and
// pair. baseGasLimit is the operation's base cost estimate; the granted limit
// carries a 5% buffer, is cached per (network, pair) for reuse, and is capped
// at the configured maximum.
func (a *Advisor) Recommend(network string, pair domain.TokenPair, baseGasLimit uint64) (domain.GasQuote, error) {
	if baseGasLimit == 0 {
		return domain.GasQuote{}, fmt.Errorf("gas: base gas limit must be positive")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.state(network)
	defaults := a.cfg.Defaults[network]

	observed := median(st.window)
	if observed == 0 {
		observed = defaults.GasPriceWei
	}
	if observed == 0 {
		return domain.GasQuote{}, fmt.Errorf("gas: no observed price and no default for network %q", network)
	}

	multiplier := 1.0
	switch {
	case !st.congestionKnown:
		// Never reported: neutral, not "quiet".
	case st.congestion > 0.8:
		multiplier = multiplierHigh
	case st.congestion > 0.6:
		multiplier = multiplierElevated
	case st.congestion < 0.3:
		multiplier = multiplierLow
	}
	if multiplier < clampFloor {
		multiplier = clampFloor
	}
	if multiplier > clampCeil {
		multiplier = clampCeil
	}

	price := uint64(float64(observed) * multiplier)
	if defaults.CeilingWei > 0 && price > defaults.CeilingWei {
		price = defaults.CeilingWei
	}

	priority := defaults.PriorityFeeWei
	if st.congestion > 0.8 && priority > 0 {
		priority = uint64(float64(priority) * 1.25)
	}
	if priority > price {
		priority = price
	}

	limit := a.limitFor(network, pair, baseGasLimit)

	return domain.GasQuote{
		GasLimit:       limit,
		GasPriceWei:    price,
		PriorityFeeWei: priority,
	}, nil
}

// limitFor returns the buffered gas limit for (network, pair), preferring the
// cached grant when it already covers the base estimate.
func (a *Advisor) limitFor(network string, pair domain.TokenPair, base uint64) uint64 {
	key := network + ":" + pair.String()
	limit := uint64(float64(base) * limitBuffer)
	if cached, ok := a.limits[key]; ok && cached >= limit {
		limit = cached
	}
	if a.cfg.MaxGasLimit > 0 && limit > a.cfg.MaxGasLimit {
		limit = a.cfg.MaxGasLimit
	}
	a.limits[key] = limit
	return limit
}

func (a *Advisor) state(network string) *networkState {
	st, ok := a.networks[network]
	if !ok {
		st = &networkState{}
		a.networks[network] = st
	}
	return st
}

// median returns the middle observed price, or 0 for an empty window.
func median(window []uint64) uint64 {
	if len(window) == 0 {
		return 0
	}
	sorted := make([]uint64, len(window))
	copy(sorted, window)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2]
}
