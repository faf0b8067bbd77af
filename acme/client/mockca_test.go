package client

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cpu/certmini/acme/keys"
	"github.com/cpu/certmini/acme/resources"
)

const mockToken = "token-evaGxfADs6pSRb2LAv9IZ"

// mockCA is an httptest backed ACME server covering the endpoints one
// issuance needs. It records the requests it saw so tests can assert on the
// wire behavior of the client. Signatures are not verified; the recordings
// let tests check the JWS structure instead.
type mockCA struct {
	t   *testing.T
	srv *httptest.Server

	domain  string
	certPEM []byte

	// behavior knobs
	eabRequired       bool
	acctExists        bool
	badNonceOnce      bool
	authzPrevalidated bool
	failAuthz         bool
	challRoot         string

	// recordings
	nonceCounter     int
	newNonceValues   []string
	seenNonces       []string
	newAcctProtected map[string]interface{}
	newAcctPayload   []byte
	newOrderProtected map[string]interface{}
	newOrderCount    int
	challenged       bool
	challCount       int
	challContent     string
	finalized        bool
	payloads         map[string][]string
}

type flatJWS struct {
	Protected string `json:"protected"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

func newMockCA(t *testing.T, domain string) *mockCA {
	domainKey, err := keys.NewDomainKey(2048)
	require.NoError(t, err)
	certPEM, err := keys.SelfSigned(domain, domainKey, 90*24*time.Hour)
	require.NoError(t, err)

	ca := &mockCA{
		t:        t,
		domain:   domain,
		certPEM:  certPEM,
		payloads: map[string][]string{},
	}
	ca.srv = httptest.NewServer(http.HandlerFunc(ca.handle))
	t.Cleanup(ca.srv.Close)
	return ca
}

func (ca *mockCA) url(path string) string {
	return ca.srv.URL + path
}

func (ca *mockCA) directoryURL() string {
	return ca.url("/directory")
}

func (ca *mockCA) nextNonce() string {
	ca.nonceCounter++
	return fmt.Sprintf("mock-nonce-%04d", ca.nonceCounter)
}

// decodeJWS splits a flattened JWS request body into its protected header
// and decoded payload, recording the nonce and the raw payload field.
func (ca *mockCA) decodeJWS(r *http.Request, path string) (map[string]interface{}, []byte) {
	defer r.Body.Close()
	var jws flatJWS
	require.NoError(ca.t, json.NewDecoder(r.Body).Decode(&jws))

	headerJSON, err := base64.RawURLEncoding.DecodeString(jws.Protected)
	require.NoError(ca.t, err)
	var header map[string]interface{}
	require.NoError(ca.t, json.Unmarshal(headerJSON, &header))

	payload, err := base64.RawURLEncoding.DecodeString(jws.Payload)
	require.NoError(ca.t, err)

	if nonce, ok := header["nonce"].(string); ok {
		ca.seenNonces = append(ca.seenNonces, nonce)
	}
	ca.payloads[path] = append(ca.payloads[path], string(payload))
	return header, payload
}

func (ca *mockCA) writeJSON(w http.ResponseWriter, status int, ob interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(ca.t, json.NewEncoder(w).Encode(ob))
}

func (ca *mockCA) writeProblem(w http.ResponseWriter, prob resources.Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(prob.Status)
	require.NoError(ca.t, json.NewEncoder(w).Encode(&prob))
}

func (ca *mockCA) pendingChallenges() []resources.Challenge {
	return []resources.Challenge{
		{
			Type:   "dns-01",
			URL:    ca.url("/chall/dns"),
			Token:  mockToken,
			Status: "pending",
		},
		{
			Type:   "http-01",
			URL:    ca.url("/chall/1"),
			Token:  mockToken,
			Status: "pending",
		},
	}
}

func (ca *mockCA) handle(w http.ResponseWriter, r *http.Request) {
	// Every response carries a fresh replay nonce.
	w.Header().Set("Replay-Nonce", ca.nextNonce())

	switch {
	case r.URL.Path == "/directory":
		dir := resources.Directory{
			NewNonce:   ca.url("/new-nonce"),
			NewAccount: ca.url("/new-acct"),
			NewOrder:   ca.url("/new-order"),
			RevokeCert: ca.url("/revoke-cert"),
			KeyChange:  ca.url("/key-change"),
		}
		dir.Meta.ExternalAccountRequired = ca.eabRequired
		ca.writeJSON(w, http.StatusOK, &dir)

	case r.URL.Path == "/new-nonce":
		ca.newNonceValues = append(ca.newNonceValues, w.Header().Get("Replay-Nonce"))
		w.WriteHeader(http.StatusNoContent)

	case r.URL.Path == "/new-acct":
		header, payload := ca.decodeJWS(r, "/new-acct")
		ca.newAcctProtected = header
		ca.newAcctPayload = payload
		w.Header().Set("Location", ca.url("/acct/1"))
		status := http.StatusCreated
		if ca.acctExists {
			status = http.StatusOK
		}
		ca.writeJSON(w, status, map[string]interface{}{
			"status": "valid",
		})

	case r.URL.Path == "/new-order":
		header, _ := ca.decodeJWS(r, "/new-order")
		ca.newOrderProtected = header
		ca.newOrderCount++
		if ca.badNonceOnce {
			ca.badNonceOnce = false
			ca.writeProblem(w, resources.Problem{
				Type:   "urn:ietf:params:acme:error:badNonce",
				Detail: "JWS has an invalid anti-replay nonce",
				Status: http.StatusBadRequest,
			})
			return
		}
		w.Header().Set("Location", ca.url("/order/1"))
		ca.writeJSON(w, http.StatusCreated, &resources.Order{
			Status:         "pending",
			Identifiers:    []resources.Identifier{{Type: "dns", Value: ca.domain}},
			Authorizations: []string{ca.url("/authz/1")},
			Finalize:       ca.url("/finalize/1"),
		})

	case r.URL.Path == "/authz/1":
		ca.decodeJWS(r, "/authz/1")
		authz := resources.Authorization{
			Identifier: resources.Identifier{Type: "dns", Value: ca.domain},
		}
		switch {
		case ca.authzPrevalidated:
			// Identifier authorized through an earlier order.
			authz.Status = "valid"
			authz.Challenges = ca.pendingChallenges()
			authz.Challenges[1].Status = "valid"
		case !ca.challenged:
			authz.Status = "pending"
			authz.Challenges = ca.pendingChallenges()
		case ca.failAuthz:
			authz.Status = "invalid"
			authz.Challenges = ca.pendingChallenges()
			authz.Challenges[1].Status = "invalid"
			authz.Challenges[1].Error = &resources.Problem{
				Type:   "urn:ietf:params:acme:error:unauthorized",
				Detail: "The key authorization file was not found",
				Status: http.StatusForbidden,
			}
		default:
			authz.Status = "valid"
			authz.Challenges = ca.pendingChallenges()
			authz.Challenges[1].Status = "valid"
		}
		ca.writeJSON(w, http.StatusOK, &authz)

	case r.URL.Path == "/chall/1":
		ca.decodeJWS(r, "/chall/1")
		ca.challCount++
		ca.challenged = true
		if ca.challRoot != "" {
			content, err := os.ReadFile(filepath.Join(ca.challRoot, mockToken))
			if err == nil {
				ca.challContent = string(content)
			}
		}
		ca.writeJSON(w, http.StatusOK, &resources.Challenge{
			Type:   "http-01",
			URL:    ca.url("/chall/1"),
			Token:  mockToken,
			Status: "processing",
		})

	case r.URL.Path == "/finalize/1":
		ca.decodeJWS(r, "/finalize/1")
		ca.finalized = true
		ca.writeJSON(w, http.StatusOK, &resources.Order{
			Status:         "processing",
			Identifiers:    []resources.Identifier{{Type: "dns", Value: ca.domain}},
			Authorizations: []string{ca.url("/authz/1")},
			Finalize:       ca.url("/finalize/1"),
		})

	case r.URL.Path == "/order/1":
		ca.decodeJWS(r, "/order/1")
		order := resources.Order{
			Status:         "valid",
			Identifiers:    []resources.Identifier{{Type: "dns", Value: ca.domain}},
			Authorizations: []string{ca.url("/authz/1")},
			Finalize:       ca.url("/finalize/1"),
			Certificate:    ca.url("/cert/1"),
		}
		if !ca.finalized {
			order.Status = "ready"
			order.Certificate = ""
		}
		ca.writeJSON(w, http.StatusOK, &order)

	case r.URL.Path == "/cert/1":
		ca.decodeJWS(r, "/cert/1")
		w.Header().Set("Content-Type", "application/pem-certificate-chain")
		w.WriteHeader(http.StatusOK)
		_, err := w.Write(ca.certPEM)
		require.NoError(ca.t, err)

	case r.URL.Path == "/revoke-cert":
		ca.decodeJWS(r, "/revoke-cert")
		w.WriteHeader(http.StatusOK)

	case r.URL.Path == "/key-change":
		ca.decodeJWS(r, "/key-change")
		w.WriteHeader(http.StatusOK)

	case r.URL.Path == "/acct/1":
		ca.decodeJWS(r, "/acct/1")
		ca.writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "deactivated",
		})

	default:
		ca.t.Errorf("mock CA got an unexpected request for %q", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}
