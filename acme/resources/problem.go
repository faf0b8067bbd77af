package resources

import (
	"fmt"
	"strings"

	"github.com/cpu/certmini/acme"
)

// Problem is an RFC 7807 problem document returned by the server for a
// failed request. ACME specific problem types use the
// "urn:ietf:params:acme:error:" URN prefix.
//
// See https://tools.ietf.org/html/rfc8555#section-6.7
type Problem struct {
	Type   string `json:"type,omitempty"`
	Detail string `json:"detail,omitempty"`
	Status int    `json:"status,omitempty"`
	// Subproblems carries per-identifier problems for requests covering
	// multiple identifiers.
	Subproblems []Subproblem `json:"subproblems,omitempty"`
}

// Subproblem is a problem document scoped to one identifier within a larger
// failed request.
type Subproblem struct {
	Type       string     `json:"type,omitempty"`
	Detail     string     `json:"detail,omitempty"`
	Identifier Identifier `json:"identifier,omitempty"`
}

// Problem implements error so server problem documents can be wrapped and
// surfaced directly.
func (p *Problem) Error() string {
	if p.Detail != "" {
		return fmt.Sprintf("acme: problem %s: %s", p.Type, p.Detail)
	}
	return fmt.Sprintf("acme: problem %s", p.Type)
}

// ErrorType returns the ACME error name with the URN prefix stripped, e.g.
// "badNonce". Non-ACME problem types are returned unchanged.
func (p *Problem) ErrorType() string {
	return strings.TrimPrefix(p.Type, acme.ERROR_URN_PREFIX)
}

func (p *Problem) isType(name string) bool {
	return p.Type == acme.ERROR_URN_PREFIX+name
}

// IsBadNonce is true for problems the client recovers from locally by
// retrying once with a fresh nonce.
func (p *Problem) IsBadNonce() bool { return p.isType("badNonce") }

// IsAccountDoesNotExist is true when the server has no account for the
// presented key.
func (p *Problem) IsAccountDoesNotExist() bool { return p.isType("accountDoesNotExist") }

// IsExternalAccountRequired is true when the server refuses newAccount
// requests without an externalAccountBinding field.
func (p *Problem) IsExternalAccountRequired() bool { return p.isType("externalAccountRequired") }

// IsRateLimited is true when the request was refused for exceeding a rate
// limit.
func (p *Problem) IsRateLimited() bool { return p.isType("rateLimited") }

// IsUnauthorized is true when the account lacks authorization for the
// requested action.
func (p *Problem) IsUnauthorized() bool { return p.isType("unauthorized") }

// IsMalformed is true when the server rejected the request message itself.
func (p *Problem) IsMalformed() bool { return p.isType("malformed") }

// IsServerInternal is true for server-side failures that are safe to retry.
func (p *Problem) IsServerInternal() bool { return p.isType("serverInternal") }
