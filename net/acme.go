// Package net provides the HTTP transport used for all requests to an ACME
// server.
package net

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/cpu/certmini/acme"
)

const (
	version       = "0.1.0"
	userAgentBase = "cpu.certmini"
	locale        = "en-us"

	// requestTimeout bounds every individual HTTP request to the ACME
	// server.
	requestTimeout = 40 * time.Second
)

type Config struct {
	// CABundlePath is an optional file path to one or more PEM encoded CA
	// certificates used as trust roots for HTTPS requests to the ACME
	// server. If empty the system roots are used.
	CABundlePath string
	// Timeout overrides the default per-request timeout when non-zero.
	Timeout time.Duration
}

func (c *Config) normalize() {
	c.CABundlePath = strings.TrimSpace(c.CABundlePath)
	if c.Timeout == 0 {
		c.Timeout = requestTimeout
	}
}

// ACMENet is a scoped HTTP transport for one client session. It is acquired
// when the session begins and released with Close on all exit paths.
type ACMENet struct {
	httpClient *http.Client
	transport  *http.Transport
}

// New constructs an ACMENet from the given Config. The underlying transport
// negotiates HTTP/2 where the server supports it.
func New(conf Config) (*ACMENet, error) {
	conf.normalize()

	tlsConf := &tls.Config{}
	if conf.CABundlePath != "" {
		pemBundle, err := os.ReadFile(conf.CABundlePath)
		if err != nil {
			return nil, err
		}
		caBundle := x509.NewCertPool()
		if !caBundle.AppendCertsFromPEM(pemBundle) {
			return nil, fmt.Errorf("no CA certificates found in %q", conf.CABundlePath)
		}
		tlsConf.RootCAs = caBundle
	}

	transport := &http.Transport{
		TLSClientConfig: tlsConf,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, err
	}

	return &ACMENet{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   conf.Timeout,
		},
		transport: transport,
	}, nil
}

// Close releases the transport's idle connections. The ACMENet must not be
// used after Close.
func (c *ACMENet) Close() {
	c.transport.CloseIdleConnections()
}

// NetResponse bundles an HTTP response with its fully read body.
type NetResponse struct {
	Response *http.Response
	RespBody []byte
}

func (c *ACMENet) Do(req *http.Request) (*NetResponse, error) {
	return c.httpRequest(req)
}

func (c *ACMENet) httpRequest(req *http.Request) (*NetResponse, error) {
	ua := fmt.Sprintf("%s %s (%s; %s)",
		userAgentBase, version, runtime.GOOS, runtime.GOARCH)
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept-Language", locale)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &NetResponse{
		Response: resp,
		RespBody: respBody,
	}, nil
}

// HeadURL sends a HEAD request to the given URL. Used for the newNonce
// endpoint where only the response headers matter.
func (c *ACMENet) HeadURL(url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	return resp.Response, nil
}

// PostRequest constructs a POST request to the given URL with the given
// body. Returns an HTTP request or a non-nil error.
func (c *ACMENet) PostRequest(url string, body []byte) (*http.Request, error) {
	return http.NewRequest(http.MethodPost, url, bytes.NewBuffer(body))
}

// PostURL POSTs the given body to the given URL with the JOSE content type.
// This is a wrapper combining PostRequest and Do.
func (c *ACMENet) PostURL(url string, body []byte) (*NetResponse, error) {
	req, err := c.PostRequest(url, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", acme.JOSE_CONTENT_TYPE)
	return c.Do(req)
}

// GetRequest constructs a GET request to the given URL. Returns an HTTP
// request or a non-nil error.
func (c *ACMENet) GetRequest(url string) (*http.Request, error) {
	return http.NewRequest(http.MethodGet, url, nil)
}

// GetURL GETs the given URL. This is a wrapper combining GetRequest and Do.
func (c *ACMENet) GetURL(url string) (*NetResponse, error) {
	req, err := c.GetRequest(url)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}
