package api

import (
	"net/http"

	"github.com/freightwatch/freightwatch/internal/domain"
)

// identity is the (user id, role) pair the fronting auth layer injects via
// headers. The core trusts it for the lifetime of a subscription; revocation
// takes effect on reconnect.
type identity struct {
	UserID string
	Role   domain.Role
}

func identityFrom(r *http.Request) (identity, bool) {
	id := identity{
		UserID: r.Header.Get("X-User-Id"),
		Role:   domain.Role(r.Header.Get("X-User-Role")),
	}
	if id.UserID == "" || !id.Role.Valid() {
		return identity{}, false
	}
	return id, true
}

func (id identity) anyRole(roles ...domain.Role) bool {
	if id.Role == domain.RoleAdmin {
		return true
	}
	for _, role := range roles {
		if id.Role == role {
			return true
		}
	}
	return false
}
