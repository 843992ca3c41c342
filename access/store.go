package access

import "context"

type Store interface {
	HasRole(ctx context.Context, role Role, principal Principal) (bool, error)
	RoleMembers(ctx context.Context, role Role) ([]Principal, error)
}
