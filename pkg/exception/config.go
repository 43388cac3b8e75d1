package exception

import "errors"

// Config errors
var (
	ErrConfigMissing       = errors.New("config: missing")
	ErrConfigMalformed     = errors.New("config: malformed")
	ErrConfigInvalidValue  = errors.New("config: invalid value")
	ErrConfigUnknownSymbol = errors.New("config: unknown symbol")
	ErrConfigUnknownType   = errors.New("config: unknown strategy type")
	ErrRegistrySealed      = errors.New("config: registry sealed")
)
