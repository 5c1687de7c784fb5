package services

import (
	"fmt"
)

// InvalidAmountError is returned for amounts that cannot be parsed as
// a decimal currency value. It is reported before any network call.
type InvalidAmountError struct {
	Input string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %q", e.Input)
}

// GatewayRequestError wraps transport failures and 5xx responses from
// the payment gateway. Callers may retry; the client itself does not.
type GatewayRequestError struct {
	Op  string
	Err error
}

func (e *GatewayRequestError) Error() string {
	return fmt.Sprintf("gateway request failed (%s): %v", e.Op, e.Err)
}

func (e *GatewayRequestError) Unwrap() error {
	return e.Err
}

// GatewayResponseError is returned when the gateway answers 2xx but
// the payload lacks a resolvable transaction. Fatal for that attempt.
type GatewayResponseError struct {
	Reason string
}

func (e *GatewayResponseError) Error() string {
	return fmt.Sprintf("malformed gateway response: %s", e.Reason)
}

// ArtifactFetchError is returned when the payment QR image cannot be
// fetched. It aborts the delivery only; the session stays pending.
type ArtifactFetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *ArtifactFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to fetch payment artifact %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("failed to fetch payment artifact %s: status %d", e.URL, e.Status)
}

func (e *ArtifactFetchError) Unwrap() error {
	return e.Err
}
