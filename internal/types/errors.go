package types

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyResult means a provider answered but carried no usable text.
	ErrEmptyResult = errors.New("provider returned an empty result")
	// ErrUnparsableResponse means no JSON object could be located in a model reply.
	ErrUnparsableResponse = errors.New("no JSON object found in model response")
)

// ProviderError is a transcription or analysis backend failure. Code is the
// HTTP status, or 0 when the request never got a response.
type ProviderError struct {
	Provider string
	Code     int
	Body     string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s error: %d - %s", e.Provider, e.Code, e.Body)
}

func (e *ProviderError) Unwrap() error { return e.Err }
