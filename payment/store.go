package payment

import (
	"context"
	"time"

	"github.com/xraph/remittance/access"
)

// Store is the read side of payment storage.
type Store interface {
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
	ListPayments(ctx context.Context, opts ListOpts) ([]*Payment, error)
}

// ListOpts filters a payment listing. Results are ordered by creation time,
// oldest first, then by id. A zero Limit means no limit.
type ListOpts struct {
	Sender    access.Principal
	Recipient access.Principal
	Status    Status
	AsOf      time.Time
	Limit     int
	Offset    int
}
