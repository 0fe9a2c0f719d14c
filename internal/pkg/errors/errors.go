package errors

import "errors"

var (
	ErrModelUnavailable = errors.New("model not loaded")
	ErrInvalidImage     = errors.New("invalid image")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrFetchImage       = errors.New("fetch image failed")
	ErrInference        = errors.New("inference failed")
	ErrNotFound         = errors.New("not found")
)

func IsModelUnavailable(err error) bool {
	return errors.Is(err, ErrModelUnavailable)
}

func IsInvalidImage(err error) bool {
	return errors.Is(err, ErrInvalidImage)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
