package exception

import "errors"

var (
	ErrNilInstance     = errors.New("nil instance")
	ErrInternal        = errors.New("internal error")
	ErrInvalidArgument = errors.New("invalid argument")
)
