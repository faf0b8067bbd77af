package solver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cpu/certmini/acme"
)

const (
	webdavTimeout   = 30 * time.Second
	webdavRetries   = 3
	webdavBackoff   = time.Second
	wellKnownPrefix = "/.well-known/acme-challenge/"
)

// WebDAV fulfills http-01 challenges by uploading the key authorization to
// the validated host itself over WebDAV: a PUT to
// http://<domain>/.well-known/acme-challenge/<token> with HTTP basic auth,
// and a DELETE on cleanup. Each call is retried on 5xx responses.
type WebDAV struct {
	// Username and Password authenticate the PUT/DELETE requests.
	Username string
	Password string
	// Scheme selects "http" (default) or "https" for the upload URL.
	Scheme string
	// HTTPClient overrides the default 30 second timeout client. Mostly
	// useful for tests.
	HTTPClient *http.Client
}

// Register installs the http-01 hooks on the given Set and returns it.
func (w *WebDAV) Register(s *Set) *Set {
	return s.Register(acme.ChallengeHTTP01, Hooks{
		Fulfill: w.fulfill,
		Clear:   w.clear,
	})
}

func (w *WebDAV) client() *http.Client {
	if w.HTTPClient != nil {
		return w.HTTPClient
	}
	return &http.Client{Timeout: webdavTimeout}
}

func (w *WebDAV) challengeURL(domain string, chal Challenge) string {
	scheme := w.Scheme
	if scheme == "" {
		scheme = "http"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   domain,
		Path:   wellKnownPrefix + chal.Token,
	}
	return u.String()
}

// do issues one authenticated request, retrying on 5xx responses with
// a short fixed backoff.
func (w *WebDAV) do(ctx context.Context, method, url string, body string) error {
	var lastErr error
	for attempt := 0; attempt < webdavRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(webdavBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		var bodyReader *strings.Reader
		if body != "" {
			bodyReader = strings.NewReader(body)
		} else {
			bodyReader = strings.NewReader("")
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return err
		}
		req.SetBasicAuth(w.Username, w.Password)

		resp, err := w.client().Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("%s %s returned HTTP status %d", method, url, resp.StatusCode)
			continue
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("%s %s returned HTTP status %d", method, url, resp.StatusCode)
		}
		return nil
	}
	return lastErr
}

func (w *WebDAV) fulfill(ctx context.Context, domain string, chal Challenge) (Result, error) {
	if chal.Token == "" {
		return NotHandled, fmt.Errorf("challenge has no token")
	}
	err := w.do(ctx, http.MethodPut, w.challengeURL(domain, chal), chal.KeyAuth)
	if err != nil {
		return NotHandled, err
	}
	return Handled, nil
}

func (w *WebDAV) clear(ctx context.Context, domain string, chal Challenge) error {
	return w.do(ctx, http.MethodDelete, w.challengeURL(domain, chal), "")
}
