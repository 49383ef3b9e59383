package daggerbuild

import "errors"

var (
	ErrBuild   = errors.New("dagger build failed")
	ErrConnect = errors.New("cannot connect to dagger engine")
	ErrCopy    = errors.New("copy failed")
)
