package postgres

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xraph/grove"

	"github.com/xraph/remittance/access"
	"github.com/xraph/remittance/event"
	"github.com/xraph/remittance/fee"
	"github.com/xraph/remittance/id"
	"github.com/xraph/remittance/payment"
	"github.com/xraph/remittance/state"
	"github.com/xraph/remittance/treasury"
	"github.com/xraph/remittance/types"
)

// stateRowID is the primary key of the only state row.
const stateRowID = 1

// ==================== State ====================

type stateModel struct {
	grove.BaseModel `grove:"table:remittance_state"`

	ID              int16     `grove:"id,pk"`
	Paused          bool      `grove:"paused"`
	FeePercentage   int16     `grove:"fee_percentage"`
	TreasuryBalance int64     `grove:"treasury_balance"`
	Deposited       int64     `grove:"deposited"`
	Claimed         int64     `grove:"claimed"`
	Withdrawn       int64     `grove:"withdrawn"`
	EventSeq        int64     `grove:"event_seq"`
	UpdatedAt       time.Time `grove:"updated_at"`
}

func toStateModel(st *state.State) *stateModel {
	return &stateModel{
		ID:              stateRowID,
		Paused:          st.Paused,
		FeePercentage:   int16(st.FeePercentage),
		TreasuryBalance: int64(st.TreasuryBalance),
		Deposited:       int64(st.Deposited),
		Claimed:         int64(st.Claimed),
		Withdrawn:       int64(st.Withdrawn),
		EventSeq:        st.EventSeq,
		UpdatedAt:       st.UpdatedAt.UTC(),
	}
}

func fromStateModel(m *stateModel) *state.State {
	return &state.State{
		Paused:          m.Paused,
		FeePercentage:   fee.Percentage(m.FeePercentage),
		TreasuryBalance: types.Amount(m.TreasuryBalance),
		Deposited:       types.Amount(m.Deposited),
		Claimed:         types.Amount(m.Claimed),
		Withdrawn:       types.Amount(m.Withdrawn),
		EventSeq:        m.EventSeq,
		UpdatedAt:       m.UpdatedAt.UTC(),
	}
}

// ==================== Payment ====================

type paymentModel struct {
	grove.BaseModel `grove:"table:remittance_payments"`

	ID            string     `grove:"id,pk"`
	Sender        string     `grove:"sender"`
	Recipient     string     `grove:"recipient"`
	Currency      string     `grove:"currency"`
	GrossAmount   int64      `grove:"gross_amount"`
	NetAmount     int64      `grove:"net_amount"`
	FeeAmount     int64      `grove:"fee_amount"`
	FeePercentage int16      `grove:"fee_percentage"`
	Claimed       bool       `grove:"claimed"`
	ClaimedAt     *time.Time `grove:"claimed_at"`
	Expiration    time.Time  `grove:"expiration"`
	CreatedAt     time.Time  `grove:"created_at"`
	UpdatedAt     time.Time  `grove:"updated_at"`
}

func toPaymentModel(p *payment.Payment) *paymentModel {
	m := &paymentModel{
		ID:            p.ID,
		Sender:        string(p.Sender),
		Recipient:     string(p.Recipient),
		Currency:      p.Currency,
		GrossAmount:   int64(p.GrossAmount),
		NetAmount:     int64(p.NetAmount),
		FeeAmount:     int64(p.FeeAmount),
		FeePercentage: int16(p.FeePercentage),
		Claimed:       p.Claimed,
		Expiration:    p.Expiration.UTC(),
		CreatedAt:     p.CreatedAt.UTC(),
		UpdatedAt:     p.UpdatedAt.UTC(),
	}
	if p.ClaimedAt != nil {
		at := p.ClaimedAt.UTC()
		m.ClaimedAt = &at
	}
	return m
}

func fromPaymentModel(m *paymentModel) *payment.Payment {
	p := &payment.Payment{
		ID:            m.ID,
		Sender:        access.Principal(m.Sender),
		Recipient:     access.Principal(m.Recipient),
		Currency:      m.Currency,
		GrossAmount:   types.Amount(m.GrossAmount),
		NetAmount:     types.Amount(m.NetAmount),
		FeeAmount:     types.Amount(m.FeeAmount),
		FeePercentage: fee.Percentage(m.FeePercentage),
		Claimed:       m.Claimed,
		Expiration:    m.Expiration.UTC(),
	}
	p.CreatedAt = m.CreatedAt.UTC()
	p.UpdatedAt = m.UpdatedAt.UTC()
	if m.ClaimedAt != nil {
		at := m.ClaimedAt.UTC()
		p.ClaimedAt = &at
	}
	return p
}

// ==================== Role ====================

type roleModel struct {
	grove.BaseModel `grove:"table:remittance_roles"`

	ID        string    `grove:"id,pk"`
	Role      string    `grove:"role"`
	Principal string    `grove:"principal"`
	GrantedBy string    `grove:"granted_by"`
	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func toRoleModel(g *access.Grant) *roleModel {
	return &roleModel{
		ID:        g.ID.String(),
		Role:      string(g.Role),
		Principal: string(g.Principal),
		GrantedBy: string(g.GrantedBy),
		CreatedAt: g.CreatedAt.UTC(),
		UpdatedAt: g.UpdatedAt.UTC(),
	}
}

// ==================== Withdrawal ====================

type withdrawalModel struct {
	grove.BaseModel `grove:"table:remittance_withdrawals"`

	ID           string    `grove:"id,pk"`
	Owner        string    `grove:"owner"`
	Amount       int64     `grove:"amount"`
	BalanceAfter int64     `grove:"balance_after"`
	CreatedAt    time.Time `grove:"created_at"`
	UpdatedAt    time.Time `grove:"updated_at"`
}

func toWithdrawalModel(w *treasury.Withdrawal) *withdrawalModel {
	return &withdrawalModel{
		ID:           w.ID.String(),
		Owner:        string(w.Owner),
		Amount:       int64(w.Amount),
		BalanceAfter: int64(w.BalanceAfter),
		CreatedAt:    w.CreatedAt.UTC(),
		UpdatedAt:    w.UpdatedAt.UTC(),
	}
}

func fromWithdrawalModel(m *withdrawalModel) (*treasury.Withdrawal, error) {
	wid, err := id.ParseWithdrawalID(m.ID)
	if err != nil {
		return nil, err
	}
	w := &treasury.Withdrawal{
		ID:           wid,
		Owner:        access.Principal(m.Owner),
		Amount:       types.Amount(m.Amount),
		BalanceAfter: types.Amount(m.BalanceAfter),
	}
	w.CreatedAt = m.CreatedAt.UTC()
	w.UpdatedAt = m.UpdatedAt.UTC()
	return w, nil
}

// ==================== Event ====================

type eventModel struct {
	grove.BaseModel `grove:"table:remittance_events"`

	Seq        int64           `grove:"seq,pk"`
	ID         string          `grove:"id"`
	Type       string          `grove:"type"`
	Actor      string          `grove:"actor"`
	Subject    string          `grove:"subject"`
	Payload    json.RawMessage `grove:"payload,type:jsonb"`
	OccurredAt time.Time       `grove:"occurred_at"`
}

func toEventModel(e *event.Event) *eventModel {
	return &eventModel{
		Seq:        e.Seq,
		ID:         e.ID.String(),
		Type:       string(e.Type),
		Actor:      string(e.Actor),
		Subject:    e.Subject,
		Payload:    json.RawMessage(e.Payload),
		OccurredAt: e.OccurredAt.UTC(),
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	eid, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, err
	}
	return &event.Event{
		Seq:        m.Seq,
		ID:         eid,
		Type:       event.Type(m.Type),
		Actor:      access.Principal(m.Actor),
		Subject:    m.Subject,
		Payload:    m.Payload,
		OccurredAt: m.OccurredAt.UTC(),
	}, nil
}

// ==================== Helpers ====================

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// pgCode returns the SQLSTATE of a server error, or "".
func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool { return pgCode(err) == "23505" }

// isConflict reports serialization failures and deadlocks.
func isConflict(err error) bool {
	switch pgCode(err) {
	case "40001", "40P01":
		return true
	}
	return false
}
