package mongo

import (
	"time"

	"github.com/xraph/remittance/access"
	"github.com/xraph/remittance/event"
	"github.com/xraph/remittance/fee"
	"github.com/xraph/remittance/id"
	"github.com/xraph/remittance/payment"
	"github.com/xraph/remittance/state"
	"github.com/xraph/remittance/treasury"
	"github.com/xraph/remittance/types"
)

// stateDocID is the _id of the single ledger state document.
const stateDocID = "state"

// ==================== State ====================

type stateModel struct {
	ID              string    `bson:"_id"`
	Paused          bool      `bson:"paused"`
	FeePercentage   int       `bson:"fee_percentage"`
	TreasuryBalance int64     `bson:"treasury_balance"`
	Deposited       int64     `bson:"deposited"`
	Claimed         int64     `bson:"claimed"`
	Withdrawn       int64     `bson:"withdrawn"`
	EventSeq        int64     `bson:"event_seq"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

func toStateModel(st *state.State) *stateModel {
	return &stateModel{
		ID:              stateDocID,
		Paused:          st.Paused,
		FeePercentage:   int(st.FeePercentage),
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
	ID            string     `bson:"_id"`
	Sender        string     `bson:"sender"`
	Recipient     string     `bson:"recipient"`
	Currency      string     `bson:"currency"`
	GrossAmount   int64      `bson:"gross_amount"`
	NetAmount     int64      `bson:"net_amount"`
	FeeAmount     int64      `bson:"fee_amount"`
	FeePercentage int        `bson:"fee_percentage"`
	Claimed       bool       `bson:"claimed"`
	ClaimedAt     *time.Time `bson:"claimed_at,omitempty"`
	Expiration    time.Time  `bson:"expiration"`
	CreatedAt     time.Time  `bson:"created_at"`
	UpdatedAt     time.Time  `bson:"updated_at"`
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
		FeePercentage: int(p.FeePercentage),
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
		Entity:        types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
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
	if m.ClaimedAt != nil {
		at := m.ClaimedAt.UTC()
		p.ClaimedAt = &at
	}
	return p
}

// ==================== Role ====================

type grantModel struct {
	ID        string    `bson:"_id"`
	Role      string    `bson:"role"`
	Principal string    `bson:"principal"`
	GrantedBy string    `bson:"granted_by"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func toGrantModel(g *access.Grant) *grantModel {
	return &grantModel{
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
	ID           string    `bson:"_id"`
	Owner        string    `bson:"owner"`
	Amount       int64     `bson:"amount"`
	BalanceAfter int64     `bson:"balance_after"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
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
	return &treasury.Withdrawal{
		Entity:       types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:           wid,
		Owner:        access.Principal(m.Owner),
		Amount:       types.Amount(m.Amount),
		BalanceAfter: types.Amount(m.BalanceAfter),
	}, nil
}

// ==================== Event ====================

type eventModel struct {
	Seq        int64     `bson:"_id"`
	ID         string    `bson:"event_id"`
	Type       string    `bson:"type"`
	Actor      string    `bson:"actor"`
	Subject    string    `bson:"subject"`
	Payload    string    `bson:"payload"`
	OccurredAt time.Time `bson:"occurred_at"`
}

func toEventModel(e *event.Event) *eventModel {
	return &eventModel{
		Seq:        e.Seq,
		ID:         e.ID.String(),
		Type:       string(e.Type),
		Actor:      string(e.Actor),
		Subject:    e.Subject,
		Payload:    string(e.Payload),
		OccurredAt: e.OccurredAt.UTC(),
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	eid, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, err
	}
	return &event.Event{
		ID:         eid,
		Seq:        m.Seq,
		Type:       event.Type(m.Type),
		Actor:      access.Principal(m.Actor),
		Subject:    m.Subject,
		Payload:    []byte(m.Payload),
		OccurredAt: m.OccurredAt.UTC(),
	}, nil
}
