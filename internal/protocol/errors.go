package protocol

const (
	// Validation layer.
	ErrBadRequest = "E_BAD_REQUEST"

	// Business rules.
	ErrNoResource    = "E_NO_RESOURCE"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrNoPermission  = "E_NO_PERMISSION"
	ErrConflict      = "E_CONFLICT"
	ErrLocked        = "E_LOCKED"
	ErrFrozen        = "E_FROZEN"
	ErrRateLimit     = "E_RATE_LIMIT"

	// Lookup.
	ErrNotFound = "E_NOT_FOUND"

	// Persistence faults.
	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrBadRequest:    {},
	ErrNoResource:    {},
	ErrInvalidTarget: {},
	ErrNoPermission:  {},
	ErrConflict:      {},
	ErrLocked:        {},
	ErrFrozen:        {},
	ErrRateLimit:     {},
	ErrNotFound:      {},
	ErrInternal:      {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
