// Package acme provides ACME protocol constants and the error kinds shared
// by the client and solver packages.
package acme

const (
	// See https://tools.ietf.org/html/rfc8555#section-7.1.1
	// The ACME directory key for the newNonce endpoint
	NEW_NONCE_ENDPOINT = "newNonce"
	// The ACME directory key for the newAccount endpoint.
	NEW_ACCOUNT_ENDPOINT = "newAccount"
	// The ACME directory key for the newOrder endpoint.
	NEW_ORDER_ENDPOINT = "newOrder"
	// The ACME directory key for the revokeCert endpoint.
	REVOKE_CERT_ENDPOINT = "revokeCert"
	// The ACME directory key for the keyChange endpoint.
	KEY_CHANGE_ENDPOINT = "keyChange"
	// The HTTP response header used by ACME to communicate a fresh nonce. See
	// https://tools.ietf.org/html/rfc8555#section-6.5.1
	REPLAY_NONCE_HEADER = "Replay-Nonce"
	// The HTTP response header carrying the URL of a newly created resource.
	LOCATION_HEADER = "Location"
	// The Content-Type for signed ACME requests. See
	// https://tools.ietf.org/html/rfc8555#section-6.2
	JOSE_CONTENT_TYPE = "application/jose+json"
	// The URN prefix shared by all ACME problem document types. See
	// https://tools.ietf.org/html/rfc8555#section-6.7
	ERROR_URN_PREFIX = "urn:ietf:params:acme:error:"
)

// Order, authorization and challenge status values. See
// https://tools.ietf.org/html/rfc8555#section-7.1.6
const (
	StatusPending     = "pending"
	StatusReady       = "ready"
	StatusProcessing  = "processing"
	StatusValid       = "valid"
	StatusInvalid     = "invalid"
	StatusDeactivated = "deactivated"
	StatusExpired     = "expired"
	StatusRevoked     = "revoked"
)

// Challenge types. See https://tools.ietf.org/html/rfc8555#section-8
const (
	ChallengeHTTP01    = "http-01"
	ChallengeDNS01     = "dns-01"
	ChallengeTLSALPN01 = "tls-alpn-01"
)

// IdentifierDNS is the identifier type for fully qualified domain names. In
// practice most ACME servers support only this type.
const IdentifierDNS = "dns"
