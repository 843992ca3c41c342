package audithook

// Action constants for audit events.
const (
	// Payment actions
	ActionPaymentSent     = "payment.sent"
	ActionPaymentClaimed  = "payment.claimed"
	ActionPaymentRejected = "payment.rejected"

	// Administrative actions
	ActionFeeChanged     = "fee.changed"
	ActionLedgerPaused   = "ledger.paused"
	ActionLedgerUnpaused = "ledger.unpaused"
	ActionAdminRejected  = "admin.rejected"

	// Treasury actions
	ActionTreasuryWithdrawn = "treasury.withdrawn"

	// Access actions
	ActionRoleGranted = "role.granted"
	ActionRoleRevoked = "role.revoked"
)

// Resource constants for audit events.
const (
	ResourcePayment  = "payment"
	ResourceFee      = "fee"
	ResourceLedger   = "ledger"
	ResourceTreasury = "treasury"
	ResourceRole     = "role"
)

// Category constants for audit events.
const (
	CategoryPayment  = "payment"
	CategoryTreasury = "treasury"
	CategoryAccess   = "access"
	CategoryControl  = "control"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
