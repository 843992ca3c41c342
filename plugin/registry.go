package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/remittance/access"
	"github.com/xraph/remittance/event"
	"github.com/xraph/remittance/fee"
	"github.com/xraph/remittance/payment"
	"github.com/xraph/remittance/treasury"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// Hook lists are discovered once at registration.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                 []OnInit
	onShutdown             []OnShutdown
	onPaymentSent          []OnPaymentSent
	onPaymentClaimed       []OnPaymentClaimed
	onFeePercentageChanged []OnFeePercentageChanged
	onPauseChanged         []OnPauseChanged
	onWithdrawn            []OnWithdrawn
	onRoleGranted          []OnRoleGranted
	onRoleRevoked          []OnRoleRevoked
	onEventCommitted       []OnEventCommitted
	onOperationRejected    []OnOperationRejected
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	var hooks []string
	cache := func(ok bool, name string, add func()) {
		if ok {
			add()
			hooks = append(hooks, name)
		}
	}

	v1, ok := p.(OnInit)
	cache(ok, "OnInit", func() { r.onInit = append(r.onInit, v1) })
	v2, ok := p.(OnShutdown)
	cache(ok, "OnShutdown", func() { r.onShutdown = append(r.onShutdown, v2) })
	v3, ok := p.(OnPaymentSent)
	cache(ok, "OnPaymentSent", func() { r.onPaymentSent = append(r.onPaymentSent, v3) })
	v4, ok := p.(OnPaymentClaimed)
	cache(ok, "OnPaymentClaimed", func() { r.onPaymentClaimed = append(r.onPaymentClaimed, v4) })
	v5, ok := p.(OnFeePercentageChanged)
	cache(ok, "OnFeePercentageChanged", func() { r.onFeePercentageChanged = append(r.onFeePercentageChanged, v5) })
	v6, ok := p.(OnPauseChanged)
	cache(ok, "OnPauseChanged", func() { r.onPauseChanged = append(r.onPauseChanged, v6) })
	v7, ok := p.(OnWithdrawn)
	cache(ok, "OnWithdrawn", func() { r.onWithdrawn = append(r.onWithdrawn, v7) })
	v8, ok := p.(OnRoleGranted)
	cache(ok, "OnRoleGranted", func() { r.onRoleGranted = append(r.onRoleGranted, v8) })
	v9, ok := p.(OnRoleRevoked)
	cache(ok, "OnRoleRevoked", func() { r.onRoleRevoked = append(r.onRoleRevoked, v9) })
	v10, ok := p.(OnEventCommitted)
	cache(ok, "OnEventCommitted", func() { r.onEventCommitted = append(r.onEventCommitted, v10) })
	v11, ok := p.(OnOperationRejected)
	cache(ok, "OnOperationRejected", func() { r.onOperationRejected = append(r.onOperationRejected, v11) })

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", hooks,
	)

	return nil
}

// Get returns a plugin by name.
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

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// dispatch snapshots a hook list under the read lock and calls fn for each
// entry, logging failures.
func dispatch[T Plugin](r *Registry, ctx context.Context, hook string, list *[]T, fn func(T) error) {
	r.mu.RLock()
	plugins := *list
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return fn(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, ledger any) {
	dispatch(r, ctx, "OnInit", &r.onInit, func(p OnInit) error {
		return p.OnInit(ctx, ledger)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	dispatch(r, ctx, "OnShutdown", &r.onShutdown, func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitPaymentSent emits a payment sent hook.
func (r *Registry) EmitPaymentSent(ctx context.Context, pay *payment.Payment) {
	dispatch(r, ctx, "OnPaymentSent", &r.onPaymentSent, func(p OnPaymentSent) error {
		return p.OnPaymentSent(ctx, pay)
	})
}

// EmitPaymentClaimed emits a payment claimed hook.
func (r *Registry) EmitPaymentClaimed(ctx context.Context, pay *payment.Payment) {
	dispatch(r, ctx, "OnPaymentClaimed", &r.onPaymentClaimed, func(p OnPaymentClaimed) error {
		return p.OnPaymentClaimed(ctx, pay)
	})
}

// EmitFeePercentageChanged emits a fee change hook.
func (r *Registry) EmitFeePercentageChanged(ctx context.Context, actor access.Principal, oldPct, newPct fee.Percentage) {
	dispatch(r, ctx, "OnFeePercentageChanged", &r.onFeePercentageChanged, func(p OnFeePercentageChanged) error {
		return p.OnFeePercentageChanged(ctx, actor, oldPct, newPct)
	})
}

// EmitPauseChanged emits a pause toggle hook.
func (r *Registry) EmitPauseChanged(ctx context.Context, actor access.Principal, paused bool) {
	dispatch(r, ctx, "OnPauseChanged", &r.onPauseChanged, func(p OnPauseChanged) error {
		return p.OnPauseChanged(ctx, actor, paused)
	})
}

// EmitWithdrawn emits a treasury withdrawal hook.
func (r *Registry) EmitWithdrawn(ctx context.Context, w *treasury.Withdrawal) {
	dispatch(r, ctx, "OnWithdrawn", &r.onWithdrawn, func(p OnWithdrawn) error {
		return p.OnWithdrawn(ctx, w)
	})
}

// EmitRoleGranted emits a role grant hook.
func (r *Registry) EmitRoleGranted(ctx context.Context, g *access.Grant) {
	dispatch(r, ctx, "OnRoleGranted", &r.onRoleGranted, func(p OnRoleGranted) error {
		return p.OnRoleGranted(ctx, g)
	})
}

// EmitRoleRevoked emits a role revocation hook.
func (r *Registry) EmitRoleRevoked(ctx context.Context, role access.Role, principal, actor access.Principal) {
	dispatch(r, ctx, "OnRoleRevoked", &r.onRoleRevoked, func(p OnRoleRevoked) error {
		return p.OnRoleRevoked(ctx, role, principal, actor)
	})
}

// EmitEventCommitted emits one hook per committed event.
func (r *Registry) EmitEventCommitted(ctx context.Context, events ...*event.Event) {
	for _, e := range events {
		dispatch(r, ctx, "OnEventCommitted", &r.onEventCommitted, func(p OnEventCommitted) error {
			return p.OnEventCommitted(ctx, e)
		})
	}
}

// EmitOperationRejected emits a rejected operation hook.
func (r *Registry) EmitOperationRejected(ctx context.Context, op string, actor access.Principal, err error) {
	dispatch(r, ctx, "OnOperationRejected", &r.onOperationRejected, func(p OnOperationRejected) error {
		return p.OnOperationRejected(ctx, op, actor, err)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the payment pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
