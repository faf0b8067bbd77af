package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/cpu/certmini/acme"
	"github.com/cpu/certmini/acme/keys"
)

const (
	pdnsTimeout    = 30 * time.Second
	pdnsDefaultTTL = 60
)

// PowerDNS fulfills dns-01 challenges through the PowerDNS authoritative
// server HTTP API: it installs the challenge TXT record with an RRset PATCH,
// waits for the record to propagate, and deletes the RRset on cleanup.
//
// See https://doc.powerdns.com/authoritative/http-api/zone.html
type PowerDNS struct {
	// APIURL is the base URL of the PowerDNS API, e.g.
	// "http://127.0.0.1:8081".
	APIURL string
	// APIKey is sent as the X-API-Key header on every request.
	APIKey string
	// ServerID selects the PowerDNS server instance. Defaults to
	// "localhost", the id of a default installation.
	ServerID string
	// Zone is the zone the challenge records belong to. When empty the
	// registrable domain of the validated name is used.
	Zone string
	// TTL for challenge records. Defaults to 60 seconds.
	TTL int
	// Nameservers are the host:port resolvers polled for propagation. When
	// empty the zone's authoritative servers are discovered via NS lookup.
	Nameservers []string
	// PropagationTimeout bounds the post-update TXT poll. Defaults to 60
	// seconds.
	PropagationTimeout time.Duration
	// HTTPClient overrides the default 30 second timeout client.
	HTTPClient *http.Client
}

// Register installs the dns-01 hooks on the given Set and returns it.
func (p *PowerDNS) Register(s *Set) *Set {
	return s.Register(acme.ChallengeDNS01, Hooks{
		Fulfill: p.fulfill,
		Clear:   p.clear,
	})
}

func (p *PowerDNS) client() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return &http.Client{Timeout: pdnsTimeout}
}

func (p *PowerDNS) zoneFor(domain string) (string, error) {
	if p.Zone != "" {
		return p.Zone, nil
	}
	return publicsuffix.EffectiveTLDPlusOne(domain)
}

func (p *PowerDNS) zoneURL(zone string) string {
	serverID := p.ServerID
	if serverID == "" {
		serverID = "localhost"
	}
	return fmt.Sprintf("%s/api/v1/servers/%s/zones/%s",
		strings.TrimSuffix(p.APIURL, "/"), serverID, zone)
}

// rrset is the wire form of one RRset change in a zone PATCH.
type rrset struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	TTL        int      `json:"ttl,omitempty"`
	ChangeType string   `json:"changetype"`
	Records    []record `json:"records,omitempty"`
}

type record struct {
	Content  string `json:"content"`
	Disabled bool   `json:"disabled"`
}

func (p *PowerDNS) patchZone(ctx context.Context, zone string, set rrset) error {
	body, err := json.Marshal(struct {
		RRsets []rrset `json:"rrsets"`
	}{RRsets: []rrset{set}})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPatch, p.zoneURL(zone), bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", p.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("PowerDNS zone update returned HTTP status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func (p *PowerDNS) fulfill(ctx context.Context, domain string, chal Challenge) (Result, error) {
	zone, err := p.zoneFor(domain)
	if err != nil {
		return NotHandled, err
	}

	ttl := p.TTL
	if ttl == 0 {
		ttl = pdnsDefaultTTL
	}

	fqdn := challengeFQDN(domain)
	txtValue := keys.DNSKeyAuth(chal.KeyAuth)
	err = p.patchZone(ctx, zone, rrset{
		Name:       fqdn,
		Type:       "TXT",
		TTL:        ttl,
		ChangeType: "REPLACE",
		// TXT record content must be a quoted string in the PowerDNS API.
		Records: []record{{Content: fmt.Sprintf("%q", txtValue)}},
	})
	if err != nil {
		return NotHandled, err
	}

	if err := waitTXT(ctx, fqdn, txtValue, p.Nameservers, p.PropagationTimeout); err != nil {
		return NotHandled, err
	}
	return Handled, nil
}

func (p *PowerDNS) clear(ctx context.Context, domain string, chal Challenge) error {
	zone, err := p.zoneFor(domain)
	if err != nil {
		return err
	}
	return p.patchZone(ctx, zone, rrset{
		Name:       challengeFQDN(domain),
		Type:       "TXT",
		ChangeType: "DELETE",
	})
}
