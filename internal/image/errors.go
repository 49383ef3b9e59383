package image

import "errors"

var (
	ErrInvalidReference = errors.New("invalid image reference")
	ErrNoBaseImage      = errors.New("no base image")
	ErrCredentials      = errors.New("registry credentials unavailable")
)
