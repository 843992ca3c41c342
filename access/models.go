package access

import (
	"regexp"

	"github.com/xraph/remittance/id"
	"github.com/xraph/remittance/types"
)

// Principal identifies a caller as asserted by the session layer.
type Principal string

func (p Principal) String() string { return string(p) }

func (p Principal) IsZero() bool { return p == "" }

type Role string

// OwnerRole is the administrative role. It gates fee changes, pausing,
// treasury withdrawals and role management.
const OwnerRole Role = "OWNER_ROLE"

var roleName = regexp.MustCompile(`^[A-Z][A-Z0-9_]{0,63}$`)

// Valid reports whether r is an upper snake case role identifier.
func (r Role) Valid() bool { return roleName.MatchString(string(r)) }

func (r Role) String() string { return string(r) }

type Grant struct {
	types.Entity
	ID        id.GrantID `json:"id"`
	Role      Role       `json:"role"`
	Principal Principal  `json:"principal"`
	GrantedBy Principal  `json:"granted_by"`
}
