package acme

import "errors"

// Sentinel error kinds surfaced by the client. Callers match them with
// errors.Is. Server problem documents are carried separately by
// resources.Problem, which does not wrap any of these kinds.
var (
	// ErrFulfillment indicates no solver hook accepted a challenge for an
	// authorization, or the accepting hook failed.
	ErrFulfillment = errors.New("acme: challenge fulfillment failed")
	// ErrAuthorizationFailed indicates an authorization finalized with a
	// status other than "valid".
	ErrAuthorizationFailed = errors.New("acme: authorization failed")
	// ErrOrderFailed indicates an order finalized as "invalid".
	ErrOrderFailed = errors.New("acme: order failed")
	// ErrTimeout indicates a polling loop exceeded its total budget.
	ErrTimeout = errors.New("acme: polling timed out")
	// ErrState indicates the client was used out of sequence, e.g. ordering
	// a certificate before an account exists.
	ErrState = errors.New("acme: client state error")
	// ErrCrypto indicates key parsing, signing or CSR construction failed.
	ErrCrypto = errors.New("acme: crypto operation failed")
)
