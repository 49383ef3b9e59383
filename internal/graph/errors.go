package graph

import "errors"

var (
	ErrGraphRef       = errors.New("invalid graph reference")
	ErrGraphFile      = errors.New("invalid graph file")
	ErrGraphNotFound  = errors.New("graph file not found")
	ErrUnknownService = errors.New("unknown service")
	ErrCycle          = errors.New("dependency cycle")
	ErrOverride       = errors.New("invalid service override")
	ErrConfig         = errors.New("invalid service config")
)
