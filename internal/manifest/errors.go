package manifest

import "errors"

var (
	ErrInvalidRecipe = errors.New("invalid recipe")
	ErrMissingFrom   = errors.New("stage has no base image")
	ErrInvalidCopy   = errors.New("invalid copy")
)
