package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xraph/remittance"
	"github.com/xraph/remittance/access"
	"github.com/xraph/remittance/event"
	"github.com/xraph/remittance/fee"
	"github.com/xraph/remittance/payment"
	"github.com/xraph/remittance/treasury"
	"github.com/xraph/remittance/types"
)

// ──────────────────────────────────────────────────
// Payments
// ──────────────────────────────────────────────────

// SendPaymentRequest is the body of POST /payments. AttachedValue defaults
// to the amount when omitted. AmountDecimal gives the amount in major units
// ("1.5") instead of Amount.
type SendPaymentRequest struct {
	Recipient     string `json:"recipient" binding:"required"`
	PaymentID     string `json:"payment_id" binding:"required"`
	Currency      string `json:"currency"`
	Amount        int64  `json:"amount"`
	AmountDecimal string `json:"amount_decimal,omitempty"`
	AttachedValue *int64 `json:"attached_value,omitempty"`
}

// PaymentResponse is a payment with its status at read time.
type PaymentResponse struct {
	*payment.Payment
	Status payment.Status `json:"status"`
}

func (h *Handler) sendPayment(c *gin.Context) {
	var req SendPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	amount, ok := h.amount(c, req.Amount, req.AmountDecimal)
	if !ok {
		return
	}
	attached := amount
	if req.AttachedValue != nil {
		attached = types.Amount(*req.AttachedValue)
	}

	p, err := h.engine.SendPayment(c.Request.Context(), Principal(c), remittance.SendRequest{
		Recipient:     access.Principal(req.Recipient),
		PaymentID:     req.PaymentID,
		Currency:      req.Currency,
		Amount:        amount,
		AttachedValue: attached,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, PaymentResponse{Payment: p, Status: payment.StatusActive})
}

func (h *Handler) claimPayment(c *gin.Context) {
	p, err := h.engine.ClaimPayment(c.Request.Context(), Principal(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, PaymentResponse{Payment: p, Status: payment.StatusClaimed})
}

func (h *Handler) getPayment(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := h.engine.GetPayment(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	status, err := h.engine.PaymentStatus(ctx, p.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, PaymentResponse{Payment: p, Status: status})
}

func (h *Handler) listPayments(c *gin.Context) {
	limit, offset, ok := pageParams(c)
	if !ok {
		return
	}
	ps, err := h.engine.ListPayments(c.Request.Context(), payment.ListOpts{
		Sender:    access.Principal(c.Query("sender")),
		Recipient: access.Principal(c.Query("recipient")),
		Status:    payment.Status(c.Query("status")),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": ps})
}

// ──────────────────────────────────────────────────
// Fees and pausing
// ──────────────────────────────────────────────────

// FeeRequest is the body of PUT /fee.
type FeeRequest struct {
	FeePercentage *int `json:"fee_percentage" binding:"required"`
}

func (h *Handler) getFee(c *gin.Context) {
	pct, err := h.engine.FeePercentage(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fee_percentage": pct})
}

func (h *Handler) setFee(c *gin.Context) {
	var req FeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "fee_percentage", err.Error())
		return
	}
	pct := fee.Percentage(*req.FeePercentage)
	if err := h.engine.SetFeePercentage(c.Request.Context(), Principal(c), pct); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fee_percentage": pct})
}

func (h *Handler) getPaused(c *gin.Context) {
	paused, err := h.engine.Paused(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": paused})
}

func (h *Handler) pause(c *gin.Context) {
	if err := h.engine.Pause(c.Request.Context(), Principal(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (h *Handler) unpause(c *gin.Context) {
	if err := h.engine.Unpause(c.Request.Context(), Principal(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

// ──────────────────────────────────────────────────
// Treasury
// ──────────────────────────────────────────────────

// WithdrawRequest is the body of POST /treasury/withdrawals. AmountDecimal
// gives the amount in major units instead of Amount.
type WithdrawRequest struct {
	Amount        int64  `json:"amount"`
	AmountDecimal string `json:"amount_decimal,omitempty"`
}

func (h *Handler) getTreasury(c *gin.Context) {
	bal, err := h.engine.TreasuryBalance(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": bal})
}

func (h *Handler) withdraw(c *gin.Context) {
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "amount", err.Error())
		return
	}
	amount, ok := h.amount(c, req.Amount, req.AmountDecimal)
	if !ok {
		return
	}
	w, err := h.engine.Withdraw(c.Request.Context(), Principal(c), amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (h *Handler) listWithdrawals(c *gin.Context) {
	limit, offset, ok := pageParams(c)
	if !ok {
		return
	}
	ws, err := h.engine.Withdrawals(c.Request.Context(), treasury.ListOpts{
		Owner:  access.Principal(c.Query("owner")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": ws})
}

// ──────────────────────────────────────────────────
// Roles
// ──────────────────────────────────────────────────

func (h *Handler) roleMembers(c *gin.Context) {
	members, err := h.engine.RoleMembers(c.Request.Context(), access.Role(c.Param("role")))
	if err != nil {
		h.fail(c, err)
		return
	}
	if members == nil {
		members = []access.Principal{}
	}
	c.JSON(http.StatusOK, gin.H{"role": c.Param("role"), "members": members})
}

func (h *Handler) hasRole(c *gin.Context) {
	ok, err := h.engine.HasRole(c.Request.Context(), access.Role(c.Param("role")), access.Principal(c.Param("principal")))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"has_role": ok})
}

func (h *Handler) grantRole(c *gin.Context) {
	role, principal := access.Role(c.Param("role")), access.Principal(c.Param("principal"))
	if err := h.engine.GrantRole(c.Request.Context(), Principal(c), role, principal); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": role, "principal": principal, "has_role": true})
}

func (h *Handler) revokeRole(c *gin.Context) {
	role, principal := access.Role(c.Param("role")), access.Principal(c.Param("principal"))
	if err := h.engine.RevokeRole(c.Request.Context(), Principal(c), role, principal); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": role, "principal": principal, "has_role": false})
}

func (h *Handler) renounceRole(c *gin.Context) {
	role, caller := access.Role(c.Param("role")), Principal(c)
	if err := h.engine.RenounceRole(c.Request.Context(), caller, role); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": role, "principal": caller, "has_role": false})
}

// ──────────────────────────────────────────────────
// Events and reconciliation
// ──────────────────────────────────────────────────

func (h *Handler) listEvents(c *gin.Context) {
	after, ok := intParam(c, "after_seq")
	if !ok {
		return
	}
	limit, ok := intParam(c, "limit")
	if !ok {
		return
	}
	evs, err := h.engine.Events(c.Request.Context(), event.ListOpts{
		AfterSeq: int64(after),
		Type:     event.Type(c.Query("type")),
		Limit:    limit,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

func (h *Handler) reconcile(c *gin.Context) {
	report, err := h.engine.Reconcile(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balanced": report.Balanced(), "report": report})
}

// ──────────────────────────────────────────────────
// Query helpers
// ──────────────────────────────────────────────────

func pageParams(c *gin.Context) (limit, offset int, ok bool) {
	if limit, ok = intParam(c, "limit"); !ok {
		return 0, 0, false
	}
	if offset, ok = intParam(c, "offset"); !ok {
		return 0, 0, false
	}
	return limit, offset, true
}

// intParam reads a non-negative integer query parameter. Absent is zero.
func intParam(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, name, "must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// amount resolves a request amount given either in smallest units or as a
// major-unit decimal string. It writes a 400 and returns false on bad input.
func (h *Handler) amount(c *gin.Context, units int64, major string) (types.Amount, bool) {
	if major == "" {
		return types.Amount(units), true
	}
	if units != 0 {
		badRequest(c, "amount_decimal", "set amount or amount_decimal, not both")
		return 0, false
	}
	a, err := types.ParseAmount(major, h.decimals)
	if err != nil {
		badRequest(c, "amount_decimal", err.Error())
		return 0, false
	}
	return a, true
}
