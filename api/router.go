// Package api exposes the remittance ledger over HTTP with gin.
//
// Every route except /health requires a bearer token signed with the
// configured HMAC secret. The token's subject is the calling principal; the
// API does not authenticate users itself.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xraph/remittance"
	"github.com/xraph/remittance/access"
	"github.com/xraph/remittance/event"
	"github.com/xraph/remittance/fee"
	"github.com/xraph/remittance/payment"
	"github.com/xraph/remittance/treasury"
	"github.com/xraph/remittance/types"
)

// Engine is the ledger surface the API serves. *remittance.Ledger
// implements it.
type Engine interface {
	SendPayment(ctx context.Context, caller access.Principal, req remittance.SendRequest) (*payment.Payment, error)
	ClaimPayment(ctx context.Context, caller access.Principal, paymentID string) (*payment.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error)
	ListPayments(ctx context.Context, opts payment.ListOpts) ([]*payment.Payment, error)
	PaymentStatus(ctx context.Context, paymentID string) (payment.Status, error)

	SetFeePercentage(ctx context.Context, caller access.Principal, pct fee.Percentage) error
	FeePercentage(ctx context.Context) (fee.Percentage, error)
	Pause(ctx context.Context, caller access.Principal) error
	Unpause(ctx context.Context, caller access.Principal) error
	Paused(ctx context.Context) (bool, error)

	Withdraw(ctx context.Context, caller access.Principal, amount types.Amount) (*treasury.Withdrawal, error)
	TreasuryBalance(ctx context.Context) (types.Amount, error)
	Withdrawals(ctx context.Context, opts treasury.ListOpts) ([]*treasury.Withdrawal, error)

	GrantRole(ctx context.Context, caller access.Principal, role access.Role, principal access.Principal) error
	RevokeRole(ctx context.Context, caller access.Principal, role access.Role, principal access.Principal) error
	RenounceRole(ctx context.Context, caller access.Principal, role access.Role) error
	HasRole(ctx context.Context, role access.Role, principal access.Principal) (bool, error)
	RoleMembers(ctx context.Context, role access.Role) ([]access.Principal, error)

	Events(ctx context.Context, opts event.ListOpts) ([]*event.Event, error)
	Reconcile(ctx context.Context) (*remittance.Report, error)
}

var _ Engine = (*remittance.Ledger)(nil)

// Config configures the HTTP API.
type Config struct {
	// BasePath prefixes every route (default: none).
	BasePath string

	// Auth configures bearer token verification.
	Auth AuthConfig

	// MetricsHandler, when set, is served unauthenticated at /metrics.
	MetricsHandler http.Handler

	// Health, when set, backs /health. It is typically the store's Ping.
	Health func(ctx context.Context) error

	// Decimals is the scale of amount_decimal request fields
	// (default DefaultDecimals).
	Decimals int32

	Logger *slog.Logger
}

// DefaultDecimals is the major-unit scale used when Config.Decimals is zero.
const DefaultDecimals int32 = 6

// Handler serves the ledger API.
type Handler struct {
	engine   Engine
	logger   *slog.Logger
	decimals int32
}

// NewRouter builds a gin engine serving the ledger API.
func NewRouter(engine Engine, cfg Config) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	decimals := cfg.Decimals
	if decimals <= 0 {
		decimals = DefaultDecimals
	}

	h := &Handler{engine: engine, logger: logger, decimals: decimals}
	h.Register(r.Group(strings.TrimSuffix(cfg.BasePath, "/")), cfg)
	return r
}

// Register mounts the API routes on g.
func (h *Handler) Register(g *gin.RouterGroup, cfg Config) {
	g.GET("/health", health(cfg.Health))
	if cfg.MetricsHandler != nil {
		g.GET("/metrics", gin.WrapH(cfg.MetricsHandler))
	}

	authed := g.Group("", Authenticate(cfg.Auth))

	authed.POST("/payments", h.sendPayment)
	authed.GET("/payments", h.listPayments)
	authed.GET("/payments/:id", h.getPayment)
	authed.POST("/payments/:id/claim", h.claimPayment)

	authed.GET("/fee", h.getFee)
	authed.PUT("/fee", h.setFee)
	authed.GET("/pause", h.getPaused)
	authed.POST("/pause", h.pause)
	authed.POST("/unpause", h.unpause)

	authed.GET("/treasury", h.getTreasury)
	authed.GET("/treasury/withdrawals", h.listWithdrawals)
	authed.POST("/treasury/withdrawals", h.withdraw)

	authed.GET("/roles/:role/members", h.roleMembers)
	authed.GET("/roles/:role/members/:principal", h.hasRole)
	authed.PUT("/roles/:role/members/:principal", h.grantRole)
	authed.DELETE("/roles/:role/members/:principal", h.revokeRole)
	authed.POST("/roles/:role/renounce", h.renounceRole)

	authed.GET("/events", h.listEvents)
	authed.GET("/reconcile", h.reconcile)
}

func health(check func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check != nil {
			if err := check(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Debug("api: request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
		)
	}
}
