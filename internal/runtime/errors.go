package runtime

import "errors"

var (
	ErrRuntime       = errors.New("runtime error")
	ErrEmptyIndex    = errors.New("empty image index")
	ErrEmptyArchive  = errors.New("archive contains no image")
	ErrImageNotFound = errors.New("image not found")
	ErrCommandFailed = errors.New("command failed")
	ErrNoManifest    = errors.New("no manifest for platform")
)
