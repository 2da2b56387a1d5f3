package proxy

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/cyra/ippproxyd/internal/deviceid"
	"github.com/cyra/ippproxyd/internal/ippattr"
	"github.com/cyra/ippproxyd/internal/jobtable"
)

// Context is the one-per-process proxy context spec §3 describes: the
// single struct every component reads from or writes into, passed
// explicitly rather than reached for as a package-level singleton.
type Context struct {
	// printerURI is mutable: the registrar may replace it exactly once,
	// after a system-level registration resolves a concrete printer URI
	// (spec §4.2 step 2). Guarded by mu because the poller and worker both
	// read it to open their own sessions.
	mu          sync.RWMutex
	printerURI  string
	deviceURI   string
	deviceUUID  uuid.UUID

	PreferredOutputFormat string

	// deviceAttrs is the last attribute set successfully reported to the
	// infrastructure (spec §3); owned by the attribute reconciler (C3).
	attrsMu    sync.RWMutex
	deviceAttrs ippattr.Set

	Jobs *jobtable.Table

	done int32 // atomic monotonic flag; once 1, never reset (spec §3).
}

// New builds a Context for the given infrastructure and device URIs. The
// device UUID is derived once, immediately, since it never changes for
// the lifetime of the process (spec §4.1).
func New(infrastructureURI, deviceURI string) *Context {
	return &Context{
		printerURI: infrastructureURI,
		deviceURI:  deviceURI,
		deviceUUID: deviceid.DeviceUUID(deviceURI),
		Jobs:       jobtable.New(),
	}
}

// PrinterURI returns the current infrastructure printer URI.
func (c *Context) PrinterURI() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.printerURI
}

// SetPrinterURI replaces the infrastructure printer URI. Spec §4.2 allows
// exactly one replacement, performed by the registrar after a system-level
// Register-Output-Device resolves a concrete printer URI; callers outside
// the registrar should not call this.
func (c *Context) SetPrinterURI(uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.printerURI = uri
}

// DeviceURI returns the immutable local device endpoint.
func (c *Context) DeviceURI() string { return c.deviceURI }

// DeviceUUID returns the derived, stable output-device UUID.
func (c *Context) DeviceUUID() uuid.UUID { return c.deviceUUID }

// DeviceUUIDURN returns the urn:uuid: form used as output-device-uuid on
// every infrastructure request.
func (c *Context) DeviceUUIDURN() string { return deviceid.URN(c.deviceUUID) }

// DeviceAttrs returns the last attribute set successfully reported.
func (c *Context) DeviceAttrs() ippattr.Set {
	c.attrsMu.RLock()
	defer c.attrsMu.RUnlock()
	return c.deviceAttrs
}

// SetDeviceAttrs replaces the last-accepted attribute set; called by the
// reconciler (C3) only after an Update-Output-Device-Attributes request
// succeeds.
func (c *Context) SetDeviceAttrs(attrs ippattr.Set) {
	c.attrsMu.Lock()
	defer c.attrsMu.Unlock()
	c.deviceAttrs = attrs
}

// Done reports whether shutdown has been requested.
func (c *Context) Done() bool {
	return atomic.LoadInt32(&c.done) != 0
}

// Shutdown flips the done flag. Monotonic: once set, never reset.
func (c *Context) Shutdown() {
	atomic.StoreInt32(&c.done, 1)
}
