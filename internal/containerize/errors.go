package containerize

import "errors"

var (
	ErrContainerize  = errors.New("containerize failed")
	ErrUnknownEngine = errors.New("unknown build engine")
	ErrUpload        = errors.New("upload failed")
)
