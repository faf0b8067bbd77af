package resources

// The ACME Challenge resource represents an action that the client must take
// to authorize a given account for a specific identifier in order to issue
// a certificate containing that identifier.
//
// For information about the Challenge resource see
// https://tools.ietf.org/html/rfc8555#section-7.1.5
//
// To understand the Challenge types specified by ACME see
// https://tools.ietf.org/html/rfc8555#section-8
type Challenge struct {
	// The Type of the challenge ("http-01", "dns-01" or "tls-alpn-01").
	Type string `json:"type"`
	// The URL of the challenge, POSTed to trigger server-side validation.
	URL string `json:"url"`
	// The Token used for constructing the challenge response.
	Token string `json:"token,omitempty"`
	// The Status of the challenge: "pending", "processing", "valid" or
	// "invalid".
	Status string `json:"status,omitempty"`
	// The Error associated with an invalid challenge.
	Error *Problem `json:"error,omitempty"`
}

// String returns the URL of the Challenge.
func (c Challenge) String() string {
	return c.URL
}
