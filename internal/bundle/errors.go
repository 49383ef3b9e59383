package bundle

import "errors"

var (
	ErrBundle         = errors.New("bundle error")
	ErrNotFound       = errors.New("build not found")
	ErrInvalidTag     = errors.New("invalid build tag")
	ErrInvalidVersion = errors.New("invalid version")
)
