// Package registrar implements the Registrar (C2): the connect, optional
// system-level registration, and subscription-creation sequence that binds
// the proxy to exactly one infrastructure printer before the poller or
// worker may use the session.
package registrar

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

// systemResourcePath is the well-known resource path that identifies a
// system-wide registration endpoint rather than a concrete printer (spec
// §4.2 step 2).
const systemResourcePath = "/ipp/system"

// Result carries the live session and subscription id the registrar
// produced, ready for the poller to start from.
type Result struct {
	Session        *ippclient.Session
	SubscriptionID int32
}

// printerServiceType is the only print-service-type value advertised on
// Register-Output-Device; the core only ever stands in for print devices.
const printerServiceType = "print"

// pulledEvents is the fixed event set spec §4.2 step 3 names.
var pulledEvents = []string{
	"document-config-changed",
	"document-state-changed",
	"job-config-changed",
	"job-fetchable",
	"job-state-changed",
	"printer-config-changed",
	"printer-state-changed",
}

// Register runs the full C2 procedure against ctx: connect with back-off,
// register against a system URI if one was given, then create the pull
// subscription. The returned Result's Session is what the poller should
// keep using; the worker opens its own session against the (possibly
// replaced) printer URI separately.
func Register(ctx context.Context, pc *proxy.Context, user string, password proxy.PasswordFunc, log zerolog.Logger) (*Result, error) {
	session, err := connect(ctx, pc, user, password, log)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(pc.PrinterURI())
	if err != nil {
		return nil, fmt.Errorf("parse printer uri: %w", err)
	}

	if u.Path == systemResourcePath {
		newURI, err := registerOutputDevice(ctx, session, pc, user, log)
		if err != nil {
			return nil, fmt.Errorf("register output device: %w", err)
		}
		pc.SetPrinterURI(newURI)

		session, err = connect(ctx, pc, user, password, log)
		if err != nil {
			return nil, fmt.Errorf("reconnect after registration: %w", err)
		}
	}

	subID, err := createSubscription(ctx, session, pc, user)
	if err != nil {
		return nil, fmt.Errorf("create printer subscriptions: %w", err)
	}

	return &Result{Session: session, SubscriptionID: subID}, nil
}

func connect(ctx context.Context, pc *proxy.Context, user string, password proxy.PasswordFunc, log zerolog.Logger) (*ippclient.Session, error) {
	session := ippclient.New(pc.PrinterURI(), user, password, log)
	if err := session.EnsureReachable(ctx, pc.Done); err != nil {
		return nil, fmt.Errorf("connect to infrastructure printer: %w", err)
	}
	return session, nil
}

// registerOutputDevice issues Register-Output-Device and extracts the
// concrete printer URI from printer-xri-supported[0].xri-uri. Absence of
// that attribute is fatal at registration time (spec §4.2 step 2, §7).
func registerOutputDevice(ctx context.Context, session *ippclient.Session, pc *proxy.Context, user string, log zerolog.Logger) (string, error) {
	req := ippmsg.NewRequest(ippmsg.OpRegisterOutputDevice, 1, pc.PrinterURI(), pc.DeviceUUIDURN(), user)
	op := req.Operation()
	op["system-uri"] = ippattr.URI(pc.PrinterURI())
	op["printer-service-type"] = ippattr.Keyword(printerServiceType)

	resp, err := session.Do(ctx, req, nil)
	if err != nil {
		return "", fmt.Errorf("register-output-device request: %w", err)
	}
	if !resp.Status().OK() {
		return "", fmt.Errorf("register-output-device failed with status %#x", resp.Code)
	}

	printer := resp.FirstGroup(ippmsg.GroupPrinter)
	xri := printer["printer-xri-supported"]
	uri := xri.FirstMember("xri-uri").FirstString()
	if uri == "" {
		return "", fmt.Errorf("register-output-device response missing printer-xri-supported[0].xri-uri")
	}

	log.Info().Str("printer-uri", uri).Msg("registered output device, printer uri resolved")
	return uri, nil
}

// createSubscription issues Create-Printer-Subscriptions with pull-method
// ippget, infinite lease, and the fixed event set (spec §4.2 step 3).
func createSubscription(ctx context.Context, session *ippclient.Session, pc *proxy.Context, user string) (int32, error) {
	req := ippmsg.NewRequest(ippmsg.OpCreatePrinterSubscriptions, 1, pc.PrinterURI(), pc.DeviceUUIDURN(), user)
	sub := req.AddGroup(ippmsg.GroupSubscription)
	sub["notify-pull-method"] = ippattr.Keyword("ippget")
	sub["notify-lease-duration"] = ippattr.Integer(0)
	sub["notify-events"] = ippattr.Keywords(pulledEvents)

	resp, err := session.Do(ctx, req, nil)
	if err != nil {
		return 0, fmt.Errorf("create-printer-subscriptions request: %w", err)
	}
	if !resp.Status().OK() {
		return 0, fmt.Errorf("create-printer-subscriptions failed with status %#x", resp.Code)
	}

	sg := resp.FirstGroup(ippmsg.GroupSubscription)
	id := sg["notify-subscription-id"].FirstInt()
	if id == 0 {
		return 0, fmt.Errorf("create-printer-subscriptions response missing notify-subscription-id")
	}
	return id, nil
}

// Deregister cancels the subscription and deregisters the output device.
// Called at shutdown; best-effort per spec §7 ("final deregistration is
// best-effort") — errors are logged, not returned, since shutdown must not
// hang on a dying infrastructure connection.
func Deregister(ctx context.Context, session *ippclient.Session, pc *proxy.Context, user string, subscriptionID int32, log zerolog.Logger) {
	cancelReq := ippmsg.NewRequest(ippmsg.OpCancelSubscription, 1, pc.PrinterURI(), pc.DeviceUUIDURN(), user)
	cancelReq.Operation()["notify-subscription-id"] = ippattr.Integer(subscriptionID)
	if resp, err := session.Do(ctx, cancelReq, nil); err != nil {
		log.Warn().Err(err).Msg("cancel-subscription failed during shutdown")
	} else if !resp.Status().OK() {
		log.Warn().Uint16("status", resp.Code).Msg("cancel-subscription returned an error status")
	}

	deregReq := ippmsg.NewRequest(ippmsg.OpDeregisterOutputDevice, 1, pc.PrinterURI(), pc.DeviceUUIDURN(), user)
	if resp, err := session.Do(ctx, deregReq, nil); err != nil {
		log.Warn().Err(err).Msg("deregister-output-device failed during shutdown")
	} else if !resp.Status().OK() {
		log.Warn().Uint16("status", resp.Code).Msg("deregister-output-device returned an error status")
	}
}
