package serve

import "errors"

var (
	ErrServe         = errors.New("serve failed")
	ErrNoCommand     = errors.New("service has no command")
	ErrServiceFailed = errors.New("service failed")
)
