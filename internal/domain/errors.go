package domain

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrUnauthenticated is returned when no credential is present.
var ErrUnauthenticated = errors.New("session not found")

// AuthError is returned when a login is refused or no login endpoint answers.
type AuthError struct {
	// Message is shown to the user verbatim.
	Message string
}

// Error returns the error message.
func (e *AuthError) Error() string {
	return e.Message
}

// NetworkError is returned when the broker does not produce a response.
type NetworkError struct {
	Path string
	Err  error
}

// Error returns the error message.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error on %s: %v", e.Path, e.Err)
}

// Unwrap returns the transport error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when the broker does not answer within the call deadline.
type TimeoutError struct {
	Path string
}

// Error returns the error message.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout on %s", e.Path)
}

// TradeRejected is returned when the broker answers a placement with an explicit failure marker.
type TradeRejected struct {
	Message string
}

// Error returns the error message.
func (e *TradeRejected) Error() string {
	if e.Message == "" {
		return "trade rejected by broker"
	}
	return "trade rejected by broker: " + e.Message
}

// InsufficientBalance is returned when the known balance does not cover a full cycle.
type InsufficientBalance struct {
	Have decimal.Decimal
	Need decimal.Decimal
}

// Error returns the error message.
func (e *InsufficientBalance) Error() string {
	return fmt.Sprintf("insufficient balance for a full cycle: have %s need %s", e.Have.String(), e.Need.String())
}

// IsBrokerFailure reports whether err belongs to the recoverable broker taxonomy.
func IsBrokerFailure(err error) bool {
	var (
		netErr     *NetworkError
		timeoutErr *TimeoutError
		rejected   *TradeRejected
	)
	return errors.As(err, &netErr) || errors.As(err, &timeoutErr) || errors.As(err, &rejected)
}
