package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/creditledger/bridge"
	"github.com/xraph/creditledger/budget"
	"github.com/xraph/creditledger/governance"
	"github.com/xraph/creditledger/lot"
	"github.com/xraph/creditledger/reconciliation"
	"github.com/xraph/creditledger/reservation"
)

// Registry manages all registered plugins and dispatches lifecycle
// events to the subset that implements each hook.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	onInit                     []OnInit
	onShutdown                 []OnShutdown
	onLotMinted                []OnLotMinted
	onReservationCreated       []OnReservationCreated
	onReservationFinalized     []OnReservationFinalized
	onReservationReleased      []OnReservationReleased
	onAgentBudgetWarning       []OnAgentBudgetWarning
	onAgentBudgetExhausted     []OnAgentBudgetExhausted
	onConfigProposed           []OnConfigProposed
	onConfigActivated          []OnConfigActivated
	onReconciliationCompleted  []OnReconciliationCompleted
	onReconciliationDivergence []OnReconciliationDivergence
	onTbaDepositBridged        []OnTbaDepositBridged
	onPeerTransferCompleted    []OnPeerTransferCompleted
	onMeterFlushed             []OnMeterFlushed

	verifiers       []VerifierPlugin
	signers         []SignerPlugin
	payoutProviders []PayoutProviderPlugin
}

// NewRegistry creates an empty plugin Registry.
func NewRegistry() *Registry {
	return &Registry{logger: slog.Default()}
}

// WithLogger sets the registry's logger.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin, caching which hooks it implements.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}
	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnLotMinted); ok {
		r.onLotMinted = append(r.onLotMinted, v)
	}
	if v, ok := p.(OnReservationCreated); ok {
		r.onReservationCreated = append(r.onReservationCreated, v)
	}
	if v, ok := p.(OnReservationFinalized); ok {
		r.onReservationFinalized = append(r.onReservationFinalized, v)
	}
	if v, ok := p.(OnReservationReleased); ok {
		r.onReservationReleased = append(r.onReservationReleased, v)
	}
	if v, ok := p.(OnAgentBudgetWarning); ok {
		r.onAgentBudgetWarning = append(r.onAgentBudgetWarning, v)
	}
	if v, ok := p.(OnAgentBudgetExhausted); ok {
		r.onAgentBudgetExhausted = append(r.onAgentBudgetExhausted, v)
	}
	if v, ok := p.(OnConfigProposed); ok {
		r.onConfigProposed = append(r.onConfigProposed, v)
	}
	if v, ok := p.(OnConfigActivated); ok {
		r.onConfigActivated = append(r.onConfigActivated, v)
	}
	if v, ok := p.(OnReconciliationCompleted); ok {
		r.onReconciliationCompleted = append(r.onReconciliationCompleted, v)
	}
	if v, ok := p.(OnReconciliationDivergence); ok {
		r.onReconciliationDivergence = append(r.onReconciliationDivergence, v)
	}
	if v, ok := p.(OnTbaDepositBridged); ok {
		r.onTbaDepositBridged = append(r.onTbaDepositBridged, v)
	}
	if v, ok := p.(OnPeerTransferCompleted); ok {
		r.onPeerTransferCompleted = append(r.onPeerTransferCompleted, v)
	}
	if v, ok := p.(OnMeterFlushed); ok {
		r.onMeterFlushed = append(r.onMeterFlushed, v)
	}
	if v, ok := p.(VerifierPlugin); ok {
		r.verifiers = append(r.verifiers, v)
	}
	if v, ok := p.(SignerPlugin); ok {
		r.signers = append(r.signers, v)
	}
	if v, ok := p.(PayoutProviderPlugin); ok {
		r.payoutProviders = append(r.payoutProviders, v)
	}

	r.logger.Info("plugin registered", "name", p.Name())
	return nil
}

// Get returns a plugin by name, or nil.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns every registered plugin.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Verifier returns the first registered payment proof verifier, or nil.
func (r *Registry) Verifier() bridge.Verifier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.verifiers) == 0 {
		return nil
	}
	return r.verifiers[0].Verifier()
}

// Signer returns the first registered signer, or nil.
func (r *Registry) Signer() bridge.Signer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.signers) == 0 {
		return nil
	}
	return r.signers[0].Signer()
}

// PayoutProvider returns the first registered payout provider, or nil.
func (r *Registry) PayoutProvider() bridge.PayoutProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.payoutProviders) == 0 {
		return nil
	}
	return r.payoutProviders[0].PayoutProvider()
}

// ──────────────────────────────────────────────────
// Event emission, one method per hook
// ──────────────────────────────────────────────────

func (r *Registry) EmitInit(ctx context.Context, l interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()
	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnInit", func() error { return p.OnInit(ctx, l) })
	}
}

func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()
	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnShutdown", func() error { return p.OnShutdown(ctx) })
	}
}

func (r *Registry) EmitLotMinted(ctx context.Context, l *lot.Lot) {
	r.mu.RLock()
	plugins := r.onLotMinted
	r.mu.RUnlock()
	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnLotMinted", func() error { return p.OnLotMinted(ctx, l) })
	}
}

func (r *Registry) EmitReservationCreated(ctx context.Context, res *reservation.Reservation) {
	r.mu.RLock()
	plugins := r.onReservationCreated
	r.mu.RUnlock()
	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnReservationCreated", func() error { return p.OnReservationCreated(ctx, res) })
	}
}

func (r *Registry) EmitReservationFinalized(ctx context.Context, result *reservation.Result) {
	r.mu.RLock()
	plugins := r.onReservationFinalized
	r.mu.RUnlock()
	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnReservationFinalized", func() error { return p.OnReservationFinalized(ctx, result) })
	}
}

func (r *Registry) EmitReservationReleased(ctx context.Context, res *reservation.Reservation) {
	r.mu.RLock()
	plugins := r.onReservationReleased
	r.mu.RUnlock()
	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnReservationReleased", func() error { return p.OnReservationReleased(ctx, res) })
	}
}

func (r *Registry) EmitAgentBudgetWarning(ctx context.Context, b *budget.Budget) {
	r.mu.RLock()
	plugins := r.onAgentBudgetWarning
	r.mu.RUnlock()
	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnAgentBudgetWarning", func() error { return p.OnAgentBudgetWarning(ctx, b) })
	}
}

func (r *Registry) EmitAgentBudgetExhausted(ctx context.Context, b *budget.Budget) {
	r.mu.RLock()
	plugins := r.onAgentBudgetExhausted
	r.mu.RUnlock()
	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnAgentBudgetExhausted", func() error { return p.OnAgentBudgetExhausted(ctx, b) })
	}
}

func (r *Registry) EmitConfigProposed(ctx context.Context, param *governance.Parameter) {
	r.mu.RLock()
	plugins := r.onConfigProposed
	r.mu.RUnlock()
	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnConfigProposed", func() error { return p.OnConfigProposed(ctx, param) })
	}
}

func (r *Registry) EmitConfigActivated(ctx context.Context, param *governance.Parameter) {
	r.mu.RLock()
	plugins := r.onConfigActivated
	r.mu.RUnlock()
	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnConfigActivated", func() error { return p.OnConfigActivated(ctx, param) })
	}
}

func (r *Registry) EmitReconciliationCompleted(ctx context.Context, report *reconciliation.Report) {
	r.mu.RLock()
	plugins := r.onReconciliationCompleted
	r.mu.RUnlock()
	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnReconciliationCompleted", func() error { return p.OnReconciliationCompleted(ctx, report) })
	}
}

func (r *Registry) EmitReconciliationDivergence(ctx context.Context, report *reconciliation.Report) {
	r.mu.RLock()
	plugins := r.onReconciliationDivergence
	r.mu.RUnlock()
	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnReconciliationDivergence", func() error { return p.OnReconciliationDivergence(ctx, report) })
	}
}

func (r *Registry) EmitTbaDepositBridged(ctx context.Context, d *bridge.Deposit) {
	r.mu.RLock()
	plugins := r.onTbaDepositBridged
	r.mu.RUnlock()
	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnTbaDepositBridged", func() error { return p.OnTbaDepositBridged(ctx, d) })
	}
}

func (r *Registry) EmitPeerTransferCompleted(ctx context.Context, correlationID string) {
	r.mu.RLock()
	plugins := r.onPeerTransferCompleted
	r.mu.RUnlock()
	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnPeerTransferCompleted", func() error { return p.OnPeerTransferCompleted(ctx, correlationID) })
	}
}

func (r *Registry) EmitMeterFlushed(ctx context.Context, count int, elapsed time.Duration) {
	r.mu.RLock()
	plugins := r.onMeterFlushed
	r.mu.RUnlock()
	for _, p := range plugins {
		r.dispatch(ctx, p.Name(), "OnMeterFlushed", func() error { return p.OnMeterFlushed(ctx, count, elapsed) })
	}
}

// dispatch runs fn with a timeout so a misbehaving plugin never blocks
// the transaction that already committed by the time this runs.
func (r *Registry) dispatch(ctx context.Context, pluginName, hook string, fn func() error) {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		err = fmt.Errorf("plugin: %s timed out", hook)
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		r.logger.Warn("plugin hook failed", "plugin", pluginName, "hook", hook, "error", err)
	}
}
