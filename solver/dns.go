package solver

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/publicsuffix"
)

const (
	// challengeDomainPrefix is prepended to the validated domain to form
	// the TXT record name for dns-01 challenges.
	challengeDomainPrefix = "_acme-challenge."

	propagationTimeout  = 60 * time.Second
	propagationInterval = 2 * time.Second
)

// challengeFQDN returns the fully qualified TXT record name for a dns-01
// challenge on the given domain.
func challengeFQDN(domain string) string {
	return dns.Fqdn(challengeDomainPrefix + domain)
}

// authoritativeServers discovers the nameservers responsible for the zone
// containing fqdn, returned as host:port addresses.
func authoritativeServers(fqdn string) ([]string, error) {
	suffix, err := publicsuffix.EffectiveTLDPlusOne(strings.TrimSuffix(fqdn, "."))
	if err != nil {
		return nil, err
	}
	ns, err := net.LookupNS(dns.Fqdn(suffix))
	if err != nil {
		return nil, err
	}
	nameservers := make([]string, 0, len(ns))
	for _, s := range ns {
		nameservers = append(nameservers, net.JoinHostPort(s.Host, "53"))
	}
	if len(nameservers) == 0 {
		return nil, fmt.Errorf("no nameservers found for %q", suffix)
	}
	return nameservers, nil
}

// txtPresent queries one nameserver for fqdn and reports whether the
// expected TXT value was seen in the answer.
func txtPresent(client *dns.Client, nameserver, fqdn, value string) (bool, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(fqdn, dns.TypeTXT)

	in, _, err := client.Exchange(msg, nameserver)
	if err != nil {
		return false, err
	}
	for _, rr := range in.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		for _, s := range txt.Txt {
			if s == value {
				return true, nil
			}
		}
	}
	return false, nil
}

// waitTXT polls the given nameservers until each of them serves the
// expected TXT value for fqdn, or the propagation budget is exhausted. An
// empty nameserver list triggers authoritative server discovery.
func waitTXT(ctx context.Context, fqdn, value string, nameservers []string, timeout time.Duration) error {
	if len(nameservers) == 0 {
		discovered, err := authoritativeServers(fqdn)
		if err != nil {
			return err
		}
		nameservers = discovered
	}
	if timeout == 0 {
		timeout = propagationTimeout
	}

	client := new(dns.Client)
	client.Net = "tcp"
	client.Timeout = 10 * time.Second

	deadline := time.Now().Add(timeout)
	for {
		remaining := len(nameservers)
		for _, nameserver := range nameservers {
			ok, err := txtPresent(client, nameserver, fqdn, value)
			if err == nil && ok {
				remaining--
			}
		}
		if remaining == 0 {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("TXT record %q did not propagate within %s", fqdn, timeout)
		}
		select {
		case <-time.After(propagationInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
