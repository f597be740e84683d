package protocol

const (
	// Accept boundary.
	ErrServerFull = "E_SERVER_FULL"
	ErrBadKey     = "E_BAD_KEY"

	// Frame decoding.
	ErrBadFrame    = "E_BAD_FRAME"
	ErrBadRequest  = "E_BAD_REQUEST"
	ErrUnknownType = "E_UNKNOWN_TYPE"

	// Session policy.
	ErrRateLimit = "E_RATE_LIMIT"
	ErrKicked    = "E_KICKED"
	ErrShutdown  = "E_SHUTDOWN"
	ErrInternal  = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrServerFull:  {},
	ErrBadKey:      {},
	ErrBadFrame:    {},
	ErrBadRequest:  {},
	ErrUnknownType: {},
	ErrRateLimit:   {},
	ErrKicked:      {},
	ErrShutdown:    {},
	ErrInternal:    {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
