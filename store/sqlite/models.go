package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xraph/remittance/access"
	"github.com/xraph/remittance/event"
	"github.com/xraph/remittance/fee"
	"github.com/xraph/remittance/id"
	"github.com/xraph/remittance/payment"
	"github.com/xraph/remittance/state"
	"github.com/xraph/remittance/treasury"
	"github.com/xraph/remittance/types"
)

// timeLayout is fixed-width so TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// stateRowID is the primary key of the only state row.
const stateRowID = 1

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("remittance/sqlite: parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// ==================== State ====================

type stateModel struct {
	grove.BaseModel `grove:"table:remittance_state"`

	ID              int64  `grove:"id,pk"`
	Paused          int64  `grove:"paused"`
	FeePercentage   int64  `grove:"fee_percentage"`
	TreasuryBalance int64  `grove:"treasury_balance"`
	Deposited       int64  `grove:"deposited"`
	Claimed         int64  `grove:"claimed"`
	Withdrawn       int64  `grove:"withdrawn"`
	EventSeq        int64  `grove:"event_seq"`
	UpdatedAt       string `grove:"updated_at"`
}

func toStateModel(st *state.State) *stateModel {
	return &stateModel{
		ID:              stateRowID,
		Paused:          boolInt(st.Paused),
		FeePercentage:   int64(st.FeePercentage),
		TreasuryBalance: int64(st.TreasuryBalance),
		Deposited:       int64(st.Deposited),
		Claimed:         int64(st.Claimed),
		Withdrawn:       int64(st.Withdrawn),
		EventSeq:        st.EventSeq,
		UpdatedAt:       formatTime(st.UpdatedAt),
	}
}

func fromStateModel(m *stateModel) (*state.State, error) {
	updatedAt, err := parseTime(m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &state.State{
		Paused:          m.Paused != 0,
		FeePercentage:   fee.Percentage(m.FeePercentage),
		TreasuryBalance: types.Amount(m.TreasuryBalance),
		Deposited:       types.Amount(m.Deposited),
		Claimed:         types.Amount(m.Claimed),
		Withdrawn:       types.Amount(m.Withdrawn),
		EventSeq:        m.EventSeq,
		UpdatedAt:       updatedAt,
	}, nil
}

// ==================== Payment ====================

type paymentModel struct {
	grove.BaseModel `grove:"table:remittance_payments"`

	ID            string         `grove:"id,pk"`
	Sender        string         `grove:"sender"`
	Recipient     string         `grove:"recipient"`
	Currency      string         `grove:"currency"`
	GrossAmount   int64          `grove:"gross_amount"`
	NetAmount     int64          `grove:"net_amount"`
	FeeAmount     int64          `grove:"fee_amount"`
	FeePercentage int64          `grove:"fee_percentage"`
	Claimed       int64          `grove:"claimed"`
	ClaimedAt     sql.NullString `grove:"claimed_at"`
	Expiration    string         `grove:"expiration"`
	CreatedAt     string         `grove:"created_at"`
	UpdatedAt     string         `grove:"updated_at"`
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
		FeePercentage: int64(p.FeePercentage),
		Claimed:       boolInt(p.Claimed),
		Expiration:    formatTime(p.Expiration),
		CreatedAt:     formatTime(p.CreatedAt),
		UpdatedAt:     formatTime(p.UpdatedAt),
	}
	if p.ClaimedAt != nil {
		m.ClaimedAt = sql.NullString{String: formatTime(*p.ClaimedAt), Valid: true}
	}
	return m
}

func fromPaymentModel(m *paymentModel) (*payment.Payment, error) {
	p := &payment.Payment{
		ID:            m.ID,
		Sender:        access.Principal(m.Sender),
		Recipient:     access.Principal(m.Recipient),
		Currency:      m.Currency,
		GrossAmount:   types.Amount(m.GrossAmount),
		NetAmount:     types.Amount(m.NetAmount),
		FeeAmount:     types.Amount(m.FeeAmount),
		FeePercentage: fee.Percentage(m.FeePercentage),
		Claimed:       m.Claimed != 0,
	}

	var err error
	if m.ClaimedAt.Valid {
		t, err := parseTime(m.ClaimedAt.String)
		if err != nil {
			return nil, err
		}
		p.ClaimedAt = &t
	}
	if p.Expiration, err = parseTime(m.Expiration); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(m.CreatedAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(m.UpdatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

// ==================== Role ====================

type roleModel struct {
	grove.BaseModel `grove:"table:remittance_roles"`

	ID        string `grove:"id,pk"`
	Role      string `grove:"role"`
	Principal string `grove:"principal"`
	GrantedBy string `grove:"granted_by"`
	CreatedAt string `grove:"created_at"`
	UpdatedAt string `grove:"updated_at"`
}

func toRoleModel(g *access.Grant) *roleModel {
	return &roleModel{
		ID:        g.ID.String(),
		Role:      string(g.Role),
		Principal: string(g.Principal),
		GrantedBy: string(g.GrantedBy),
		CreatedAt: formatTime(g.CreatedAt),
		UpdatedAt: formatTime(g.UpdatedAt),
	}
}

// ==================== Withdrawal ====================

type withdrawalModel struct {
	grove.BaseModel `grove:"table:remittance_withdrawals"`

	ID           string `grove:"id,pk"`
	Owner        string `grove:"owner"`
	Amount       int64  `grove:"amount"`
	BalanceAfter int64  `grove:"balance_after"`
	CreatedAt    string `grove:"created_at"`
	UpdatedAt    string `grove:"updated_at"`
}

func toWithdrawalModel(w *treasury.Withdrawal) *withdrawalModel {
	return &withdrawalModel{
		ID:           w.ID.String(),
		Owner:        string(w.Owner),
		Amount:       int64(w.Amount),
		BalanceAfter: int64(w.BalanceAfter),
		CreatedAt:    formatTime(w.CreatedAt),
		UpdatedAt:    formatTime(w.UpdatedAt),
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
	if w.CreatedAt, err = parseTime(m.CreatedAt); err != nil {
		return nil, err
	}
	if w.UpdatedAt, err = parseTime(m.UpdatedAt); err != nil {
		return nil, err
	}
	return w, nil
}

// ==================== Event ====================

type eventModel struct {
	grove.BaseModel `grove:"table:remittance_events"`

	Seq        int64  `grove:"seq,pk"`
	ID         string `grove:"id"`
	Type       string `grove:"type"`
	Actor      string `grove:"actor"`
	Subject    string `grove:"subject"`
	Payload    string `grove:"payload"`
	OccurredAt string `grove:"occurred_at"`
}

func toEventModel(e *event.Event) *eventModel {
	return &eventModel{
		Seq:        e.Seq,
		ID:         e.ID.String(),
		Type:       string(e.Type),
		Actor:      string(e.Actor),
		Subject:    e.Subject,
		Payload:    string(e.Payload),
		OccurredAt: formatTime(e.OccurredAt),
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	eid, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, err
	}
	occurredAt, err := parseTime(m.OccurredAt)
	if err != nil {
		return nil, err
	}
	return &event.Event{
		Seq:        m.Seq,
		ID:         eid,
		Type:       event.Type(m.Type),
		Actor:      access.Principal(m.Actor),
		Subject:    m.Subject,
		Payload:    []byte(m.Payload),
		OccurredAt: occurredAt,
	}, nil
}

// ==================== Helpers ====================

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
