package location

import "fmt"

// User id sentinels. UserAll addresses every running user; UserNone is the
// "no user" placeholder seen during early initialization.
const (
	UserAll  = -1
	UserNone = -10000
)

// PermissionLevel is the location permission granted to a caller.
type PermissionLevel int

const (
	PermissionNone PermissionLevel = iota
	PermissionCoarse
	PermissionFine
)

func (p PermissionLevel) String() string {
	switch p {
	case PermissionCoarse:
		return "coarse"
	case PermissionFine:
		return "fine"
	default:
		return "none"
	}
}

// CallerIdentity identifies the client behind a request. Immutable.
type CallerIdentity struct {
	UserID         int
	UID            int
	PID            int
	Package        string
	AttributionTag string

	// System marks callers that belong to the system itself and are exempt
	// from the current-user check.
	System bool
}

func (c CallerIdentity) String() string {
	if c.AttributionTag != "" {
		return fmt.Sprintf("%d/%s[%s]", c.UID, c.Package, c.AttributionTag)
	}
	return fmt.Sprintf("%d/%s", c.UID, c.Package)
}
