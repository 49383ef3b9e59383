package cloud

import "errors"

var (
	ErrCloud         = errors.New("cloud request failed")
	ErrNotLoggedIn   = errors.New("not logged in, run `dynamo cloud login` first")
	ErrUnauthorized  = errors.New("api token rejected, run `dynamo cloud login`")
	ErrNotFound      = errors.New("deployment not found")
	ErrAlreadyExists = errors.New("deployment already exists")
	ErrFailed        = errors.New("deployment failed")
	ErrTimeout       = errors.New("deployment not ready in time")
)
