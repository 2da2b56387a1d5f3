package capability

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/cyra/ippproxyd/internal/ippattr"
	"github.com/cyra/ippproxyd/internal/ippclient"
	"github.com/cyra/ippproxyd/internal/ippmsg"
	"github.com/cyra/ippproxyd/internal/proxy"
)

// Probe queries (for ipp/ipps devices) or synthesizes (for socket devices)
// the local device's attribute set, per spec §4.1.
func Probe(ctx context.Context, deviceURI string, password proxy.PasswordFunc, log zerolog.Logger, done func() bool) (ippattr.Set, error) {
	u, err := url.Parse(deviceURI)
	if err != nil {
		return nil, fmt.Errorf("parse device uri: %w", err)
	}

	switch u.Scheme {
	case "ipp", "ipps":
		return probeIPP(ctx, deviceURI, password, log, done)
	case "socket":
		return DefaultLaserProfile(), nil
	default:
		return nil, fmt.Errorf("unsupported device scheme %q", u.Scheme)
	}
}

func probeIPP(ctx context.Context, deviceURI string, password proxy.PasswordFunc, log zerolog.Logger, done func() bool) (ippattr.Set, error) {
	session := ippclient.New(deviceURI, "", password, log)
	if err := session.EnsureReachable(ctx, done); err != nil {
		return ippattr.Set{}, nil
	}

	req := ippmsg.NewRequest(ippmsg.OpGetPrinterAttributes, 1, deviceURI, "", "ippproxyd")
	req.Operation()["requested-attributes"] = ippattr.Keywords(RequestedAttributes)

	resp, err := session.Do(ctx, req, nil)
	if err != nil {
		log.Warn().Err(err).Msg("capability probe request failed")
		return ippattr.Set{}, nil
	}

	// Error >= client-error-bad-request discards the response and yields
	// an empty attribute set (spec §4.1).
	if !resp.Status().OK() {
		log.Warn().Uint16("status", resp.Code).Msg("capability probe returned an error status")
		return ippattr.Set{}, nil
	}

	attrs := resp.FirstGroup(ippmsg.GroupPrinter)
	if attrs == nil {
		attrs = ippattr.Set{}
	}
	return Reconcile(attrs), nil
}
