// Package resources provides types for representing and interacting with
// ACME protocol resources.
package resources

// The Identifier resource represents a subject identifier that can be
// included in a certificate. In practice most ACME servers only support
// "dns" type identifiers where the value is a fully qualified domain name.
//
// See https://tools.ietf.org/html/rfc8555#section-7.4
type Identifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// The Order resource represents a collection of identifiers that an account
// wishes to obtain a certificate for.
//
// See https://tools.ietf.org/html/rfc8555#section-7.1.3
//
// To understand the Status changes specified by ACME for the Order resource
// see https://tools.ietf.org/html/rfc8555#section-7.1.6
type Order struct {
	// The server-assigned ID (a URL) identifying the Order, taken from the
	// Location header of the newOrder response.
	ID string `json:"-"`
	// The Status of the Order: "pending", "ready", "processing", "valid" or
	// "invalid".
	Status string `json:"status,omitempty"`
	// The Identifiers the Order wishes to finalize a certificate for.
	Identifiers []Identifier `json:"identifiers"`
	// A list of URLs for the Authorization resources the server requires to
	// be valid before the Order can be finalized.
	Authorizations []string `json:"authorizations,omitempty"`
	// The URL used to finalize the Order with a CSR once its status is
	// "ready".
	Finalize string `json:"finalize,omitempty"`
	// The URL for fetching the issued certificate. Present once the Order
	// status is "valid".
	Certificate string `json:"certificate,omitempty"`
	// The RFC 3339 time after which the server considers the Order invalid.
	Expires string `json:"expires,omitempty"`
	// The Error associated with an Order that failed processing.
	Error *Problem `json:"error,omitempty"`
}

// String returns the Order's ID URL.
func (o Order) String() string {
	return o.ID
}
