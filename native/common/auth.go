package common

import (
	"errors"

	"termrepo/crypto"
)

// Role tags the capability a caller presents at an operation boundary. The
// protocol's access control collaborators resolve an address to a role before
// invoking the core; the core only checks the tag.
type Role uint8

const (
	RoleNone Role = iota
	// RoleTermContract marks calls originating from a deployed term contract
	// (auction, servicer, rollover manager).
	RoleTermContract
	// RoleAdmin marks governance-approved administrative calls.
	RoleAdmin
	// RoleDelister marks the delisting capability.
	RoleDelister
	// RoleCollateralManager marks the liquidation engine's collateral owner.
	RoleCollateralManager
)

var ErrUnauthorized = errors.New("auth: caller lacks required capability")

// AuthContext carries the caller identity and capability tag into an
// operation.
type AuthContext struct {
	Caller crypto.Address
	Role   Role
}

// Require returns ErrUnauthorized unless the context carries one of the
// accepted roles.
func (a AuthContext) Require(roles ...Role) error {
	for _, role := range roles {
		if a.Role == role {
			return nil
		}
	}
	return ErrUnauthorized
}
