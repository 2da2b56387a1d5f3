// Package ippclient is the shared HTTP(S) transport every component uses
// to exchange IPP messages with either the infrastructure printer or a
// local ipp(s):// device. It owns exactly one concern: turning an
// ippmsg.Message (plus optional document bytes) into a decoded response,
// with the connection back-off and verbose wire dump spec §5/§6 require.
package ippclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyra/ippproxyd/internal/backoff"
	"github.com/cyra/ippproxyd/internal/ippmsg"
	"github.com/cyra/ippproxyd/internal/proxy"
)

// dialTimeout bounds every connection attempt (spec §5 suspension points:
// "opening a network connection, bounded by a 30-second per-attempt
// timeout").
const dialTimeout = 30 * time.Second

// Session is a live binding to one IPP endpoint (an infrastructure printer
// or a local device). The poller and worker each own their own Session per
// spec §5 ("Task E owns the infrastructure session for reads... Task W
// owns its own session").
type Session struct {
	URL      string
	User     string
	Password proxy.PasswordFunc

	http *http.Client
	log  zerolog.Logger

	Verbose bool
}

// New builds a Session targeting url. A fresh http.Client is used per
// Session (matching the teacher's internal/ipp/cups_proxy.go, which gives
// its proxy its own client rather than sharing http.DefaultClient).
func New(rawURL, user string, password proxy.PasswordFunc, log zerolog.Logger) *Session {
	return &Session{
		URL:      rawURL,
		User:     user,
		Password: password,
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
		log: log.With().Str("component", "ipp-session").Str("url", rawURL).Logger(),
	}
}

// Do sends msg (with an optional trailing document stream) and returns the
// decoded response. It never retries — callers that want the §5 "session-
// open" retry semantics call EnsureReachable first.
func (s *Session) Do(ctx context.Context, msg *ippmsg.Message, document io.Reader) (*ippmsg.Message, error) {
	decoded, _, err := s.DoWithTrailer(ctx, msg, document)
	return decoded, err
}

// DoWithTrailer behaves like Do but also returns any bytes the response
// carries after its attribute groups — the document payload a Fetch-Job or
// Fetch-Document response returns.
func (s *Session) DoWithTrailer(ctx context.Context, msg *ippmsg.Message, document io.Reader) (*ippmsg.Message, []byte, error) {
	payload, err := ippmsg.Encode(msg)
	if err != nil {
		return nil, nil, fmt.Errorf("encode request: %w", err)
	}

	var body io.Reader = bytes.NewReader(payload)
	if document != nil {
		body = io.MultiReader(bytes.NewReader(payload), document)
	}

	target, err := httpURL(s.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse endpoint: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/ipp")

	if s.User != "" && s.Password != nil {
		pw, err := s.Password(s.User, s.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve password: %w", err)
		}
		req.SetBasicAuth(s.User, pw)
	}

	if s.Verbose {
		s.dumpRequest(msg)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("round trip: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}

	decoded, trailer, err := ippmsg.DecodeBytes(respBody)
	if err != nil {
		return nil, nil, fmt.Errorf("decode response: %w", err)
	}

	if s.Verbose {
		s.dumpResponse(decoded)
	}

	return decoded, trailer, nil
}

// EnsureReachable blocks until a TCP connection to the session's host
// succeeds, retrying forever with Fibonacci-modulo-60 back-off (spec §4.2
// step 1: "fails-never: retries are unbounded unless the shutdown flag is
// set"). done is polled between attempts so shutdown stays responsive.
func (s *Session) EnsureReachable(ctx context.Context, done func() bool) error {
	host, err := hostPort(s.URL)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}

	bo := backoff.New()
	for {
		if done() {
			return fmt.Errorf("shutdown requested before %s became reachable", host)
		}

		dialer := net.Dialer{Timeout: dialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", host)
		if err == nil {
			conn.Close()
			return nil
		}

		s.log.Warn().Err(err).Str("host", host).Msg("connection attempt failed, backing off")

		delay := bo.Next()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// httpURL rewrites an ipp(s):// endpoint into the http(s):// one net/http's
// Transport actually knows how to dial — it only handles "http"/"https"
// schemes and returns "unsupported protocol scheme" on anything else.
// ipps:// forces TLS exactly as ipp:// forces plaintext, per spec §4.7.
func httpURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Port() == "" {
		if u.Scheme == "ipps" {
			u.Host = u.Hostname() + ":443"
		} else {
			u.Host = u.Hostname() + ":631"
		}
	}
	switch u.Scheme {
	case "ipp":
		u.Scheme = "http"
	case "ipps":
		u.Scheme = "https"
	}
	return u.String(), nil
}

func hostPort(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	switch u.Scheme {
	case "ipps", "https":
		return u.Hostname() + ":443", nil
	default:
		return u.Hostname() + ":631", nil
	}
}

func (s *Session) dumpRequest(msg *ippmsg.Message) {
	s.log.Debug().
		Uint32("request-id", msg.RequestID).
		Uint16("operation", msg.Code).
		Msg("--> IPP request")
	dumpGroups(s.log, msg)
}

func (s *Session) dumpResponse(msg *ippmsg.Message) {
	s.log.Debug().
		Uint32("request-id", msg.RequestID).
		Uint16("status", msg.Code).
		Msg("<-- IPP response")
	dumpGroups(s.log, msg)
}

func dumpGroups(log zerolog.Logger, msg *ippmsg.Message) {
	for _, g := range msg.Groups {
		log.Debug().Int("group", int(g.Tag)).Msg("-- attribute group --")
		for name, v := range g.Attrs {
			log.Debug().Str("name", name).Str("value", v.String()).Msg("  attribute")
		}
	}
}
