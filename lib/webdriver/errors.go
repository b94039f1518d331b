package webdriver

import (
	"errors"
	"fmt"
)

var ErrNoSuchElement = errors.New("no such element")
var ErrNoSession = errors.New("no webdriver session has been created")

// ResponseError is an error returned by the remote end of the protocol.
type ResponseError struct {
	Status  int
	Code    string
	Message string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("webdriver: %s (status %d)", e.Code, e.Status)
	}
	return fmt.Sprintf("webdriver: %s (status %d): %s", e.Code, e.Status, e.Message)
}

func (e *ResponseError) Is(target error) bool {
	return target == ErrNoSuchElement && e.Code == "no such element"
}
