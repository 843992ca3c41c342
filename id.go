package remittance

import "github.com/xraph/remittance/id"

// ID is the identifier type for events, withdrawals and role grants.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
