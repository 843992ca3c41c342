// Package audithook bridges remittance ledger events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import any
// particular audit backend. Callers inject a RecorderFunc adapter at wiring
// time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/remittance"
	"github.com/xraph/remittance/access"
	"github.com/xraph/remittance/fee"
	"github.com/xraph/remittance/payment"
	"github.com/xraph/remittance/plugin"
	"github.com/xraph/remittance/treasury"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                 = (*Extension)(nil)
	_ plugin.OnPaymentSent          = (*Extension)(nil)
	_ plugin.OnPaymentClaimed       = (*Extension)(nil)
	_ plugin.OnFeePercentageChanged = (*Extension)(nil)
	_ plugin.OnPauseChanged         = (*Extension)(nil)
	_ plugin.OnWithdrawn            = (*Extension)(nil)
	_ plugin.OnRoleGranted          = (*Extension)(nil)
	_ plugin.OnRoleRevoked          = (*Extension)(nil)
	_ plugin.OnOperationRejected    = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension records every committed ledger change, and every rejected call,
// to an audit trail.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentSent implements plugin.OnPaymentSent.
func (e *Extension) OnPaymentSent(ctx context.Context, p *payment.Payment) error {
	return e.record(ctx, ActionPaymentSent, SeverityInfo, OutcomeSuccess,
		ResourcePayment, p.ID, CategoryPayment, p.Sender, nil,
		"recipient", string(p.Recipient),
		"currency", p.Currency,
		"gross", p.GrossAmount.Int64(),
		"net", p.NetAmount.Int64(),
		"fee", p.FeeAmount.Int64(),
		"expiration", p.Expiration,
	)
}

// OnPaymentClaimed implements plugin.OnPaymentClaimed.
func (e *Extension) OnPaymentClaimed(ctx context.Context, p *payment.Payment) error {
	return e.record(ctx, ActionPaymentClaimed, SeverityInfo, OutcomeSuccess,
		ResourcePayment, p.ID, CategoryPayment, p.Recipient, nil,
		"net", p.NetAmount.Int64(),
	)
}

// ──────────────────────────────────────────────────
// Administrative hooks
// ──────────────────────────────────────────────────

// OnFeePercentageChanged implements plugin.OnFeePercentageChanged.
func (e *Extension) OnFeePercentageChanged(ctx context.Context, actor access.Principal, oldPct, newPct fee.Percentage) error {
	return e.record(ctx, ActionFeeChanged, SeverityWarning, OutcomeSuccess,
		ResourceFee, "", CategoryControl, actor, nil,
		"old", oldPct.Int(),
		"new", newPct.Int(),
	)
}

// OnPauseChanged implements plugin.OnPauseChanged.
func (e *Extension) OnPauseChanged(ctx context.Context, actor access.Principal, paused bool) error {
	action := ActionLedgerUnpaused
	if paused {
		action = ActionLedgerPaused
	}
	return e.record(ctx, action, SeverityWarning, OutcomeSuccess,
		ResourceLedger, "", CategoryControl, actor, nil)
}

// OnWithdrawn implements plugin.OnWithdrawn.
func (e *Extension) OnWithdrawn(ctx context.Context, w *treasury.Withdrawal) error {
	return e.record(ctx, ActionTreasuryWithdrawn, SeverityWarning, OutcomeSuccess,
		ResourceTreasury, w.ID.String(), CategoryTreasury, w.Owner, nil,
		"amount", w.Amount.Int64(),
		"balance_after", w.BalanceAfter.Int64(),
	)
}

// OnRoleGranted implements plugin.OnRoleGranted.
func (e *Extension) OnRoleGranted(ctx context.Context, g *access.Grant) error {
	return e.record(ctx, ActionRoleGranted, SeverityWarning, OutcomeSuccess,
		ResourceRole, string(g.Role), CategoryAccess, g.GrantedBy, nil,
		"principal", string(g.Principal),
	)
}

// OnRoleRevoked implements plugin.OnRoleRevoked.
func (e *Extension) OnRoleRevoked(ctx context.Context, role access.Role, principal, actor access.Principal) error {
	return e.record(ctx, ActionRoleRevoked, SeverityWarning, OutcomeSuccess,
		ResourceRole, string(role), CategoryAccess, actor, nil,
		"principal", string(principal),
	)
}

// OnOperationRejected implements plugin.OnOperationRejected. Rejected
// payment calls are recorded at info; a rejected privileged call is a
// warning, or critical when the caller was not authorized.
func (e *Extension) OnOperationRejected(ctx context.Context, op string, actor access.Principal, err error) error {
	action, resource, category := ActionAdminRejected, ResourceLedger, CategoryControl
	severity := SeverityWarning
	switch op {
	case remittance.OpSendPayment, remittance.OpClaimPayment:
		action, resource, category = ActionPaymentRejected, ResourcePayment, CategoryPayment
		severity = SeverityInfo
	}
	switch remittance.KindOf(err) {
	case remittance.KindAuthorization:
		if category == CategoryControl {
			severity = SeverityCritical
		}
	case remittance.KindInternal, remittance.KindResource:
		severity = SeverityError
	}
	return e.record(ctx, action, severity, OutcomeFailure,
		resource, "", category, actor, err,
		"op", op,
		"code", remittance.CodeOf(err),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	actor access.Principal,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Actor:      string(actor),
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
