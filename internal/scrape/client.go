package scrape

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	logx "arrismon/pkg/logx"

	"golang.org/x/time/rate"
)

const (
	userAgent    = "arrisscan/1.0"
	fetchTimeout = 10 * time.Second
	maxPageBytes = 4 << 20
)

// The login page embeds the CSRF token in an inline script. The token
// itself is never needed again; its presence is the login check.
var csrfPattern = regexp.MustCompile(`sessionStorage\.setItem\("csrf_token",\s*(\d+)\);`)

// Options configures the modem client.
type Options struct {
	// BaseURL of the modem UI, default https://192.168.100.1/.
	BaseURL string
	// Timezone is the IANA zone the modem clock runs in; event
	// timestamps are converted from it to UTC. Empty means host local.
	Timezone string
	// Username and Password enable the login_cgi handshake some
	// firmware (CM3500B) requires. Leave both empty for open modems.
	Username string
	Password string
}

// Client scrapes the Arris web UI. The modem serves a self-signed
// certificate and its CGI endpoints misbehave under bursts, so requests
// go through an insecure-TLS client and a small rate limiter.
type Client struct {
	base  string
	http  *http.Client
	limit *rate.Limiter
	loc   *time.Location
	user  string
	pass  string
	log   logx.Logger
}

func NewClient(opts Options, log logx.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = "https://192.168.100.1"
	}

	loc := time.Local
	if tz := strings.TrimSpace(opts.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("timezone %q: %w", tz, err)
		}
		loc = l
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	return &Client{
		base: base,
		http: &http.Client{
			Timeout: fetchTimeout,
			Jar:     jar,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		// Burst of 2 lets a login+fetch pair through back to back.
		limit: rate.NewLimiter(rate.Limit(4), 2),
		loc:   loc,
		user:  opts.Username,
		pass:  opts.Password,
		log:   log,
	}, nil
}

// Status fetches and parses the channel diagnostics page.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	page, err := c.fetchPage(ctx, "/cgi-bin/status_cgi")
	if err != nil {
		return nil, err
	}
	return parseStatus(page)
}

// Events fetches the event log and returns it oldest first, with
// timestamps converted to UTC and unset-clock entries repaired.
func (c *Client) Events(ctx context.Context) ([]Event, error) {
	page, err := c.fetchPage(ctx, "/cgi-bin/event_cgi")
	if err != nil {
		return nil, err
	}
	return parseEvents(page, c.loc)
}

func (c *Client) fetchPage(ctx context.Context, path string) ([]byte, error) {
	if err := c.login(ctx); err != nil {
		return nil, err
	}
	if err := c.limit.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	c.log.Debug("fetching page", logx.String("path", path))
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s: unexpected status %s", path, resp.Status)
	}
	return body, nil
}

// login performs the login_cgi handshake when credentials are set. The
// session cookie lands in the jar; the CSRF marker in the response is
// the success signal.
func (c *Client) login(ctx context.Context) error {
	if c.user == "" || c.pass == "" {
		return nil
	}
	if err := c.limit.Wait(ctx); err != nil {
		return err
	}

	form := url.Values{
		"username": {c.user},
		"password": {c.pass},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base+"/cgi-bin/login_cgi", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("login: unexpected status %s", resp.Status)
	}
	if !csrfPattern.Match(body) {
		return errors.New("login: csrf token not found in response")
	}
	return nil
}
