package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Command layer.
	ErrBadCmd       = "E_BAD_CMD"
	ErrUnknownUnit  = "E_UNKNOWN_UNIT"
	ErrUnknownKind  = "E_UNKNOWN_KIND"
	ErrUnknownGroup = "E_UNKNOWN_GROUP"
	ErrOutOfBounds  = "E_OUT_OF_BOUNDS"
	ErrUnreachable  = "E_UNREACHABLE"

	// Invariant violations surfaced to operators.
	ErrReservationConflict = "E_RESERVATION_CONFLICT"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:     {},
	ErrBadCmd:              {},
	ErrUnknownUnit:         {},
	ErrUnknownKind:         {},
	ErrUnknownGroup:        {},
	ErrOutOfBounds:         {},
	ErrUnreachable:         {},
	ErrReservationConflict: {},
	ErrInternal:            {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
