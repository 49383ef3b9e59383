package settings

import "errors"

var (
	ErrSettings      = errors.New("settings error")
	ErrUnknownEngine = errors.New("unknown build engine")
)
