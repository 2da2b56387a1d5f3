// Package reconcile implements the Attribute Reconciler (C3): diffing a
// freshly-probed attribute set against the context's last-accepted set and
// pushing only the delta.
package reconcile

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cyra/ippproxyd/internal/capability"
	"github.com/cyra/ippproxyd/internal/ippattr"
	"github.com/cyra/ippproxyd/internal/ippclient"
	"github.com/cyra/ippproxyd/internal/ippmsg"
	"github.com/cyra/ippproxyd/internal/proxy"
)

// Push diffs newAttrs against pc's last-accepted device attribute set,
// restricted to the tracked-attribute allowlist (the same list C1 requests
// with), and issues Update-Output-Device-Attributes carrying only the
// changed names. On success, pc's device attribute set is replaced with
// newAttrs (spec §4.3: "On success, replace context.device_attrs with
// new"). If nothing changed, no request is sent at all.
func Push(ctx context.Context, session *ippclient.Session, pc *proxy.Context, user string, newAttrs ippattr.Set, log zerolog.Logger) error {
	prev := pc.DeviceAttrs()
	delta := ippattr.Changed(prev, newAttrs, capability.RequestedAttributes)
	if len(delta) == 0 {
		return nil
	}

	req := ippmsg.NewRequest(ippmsg.OpUpdateOutputDeviceAttributes, 1, pc.PrinterURI(), pc.DeviceUUIDURN(), user)
	printer := req.AddGroup(ippmsg.GroupPrinter)
	for name, v := range delta {
		printer[name] = v
	}

	resp, err := session.Do(ctx, req, nil)
	if err != nil {
		return fmt.Errorf("update-output-device-attributes request: %w", err)
	}
	if !resp.Status().OK() {
		return fmt.Errorf("update-output-device-attributes failed with status %#x", resp.Code)
	}

	log.Debug().Int("changed-attributes", len(delta)).Msg("pushed device attribute delta")
	pc.SetDeviceAttrs(newAttrs)
	return nil
}
