// Package deviceid derives the stable output-device UUID the registrar
// and every infrastructure request key off of (spec §4.1).
package deviceid

import (
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// DeviceUUID computes a deterministic version-3-style URN UUID from
// deviceURI. Identical URIs always yield the identical UUID, across
// processes and across reboots, which is what lets the infrastructure
// printer recognize this proxy as the same output device run after run.
//
// When deviceURI is empty it is replaced with file://<hostname>/dev/null,
// per spec §4.1, so a proxy can still derive a stable identity before a
// device URI is configured.
func DeviceUUID(deviceURI string) uuid.UUID {
	if deviceURI == "" {
		deviceURI = fmt.Sprintf("file://%s/dev/null", localHostname())
	}

	sum := sha256.Sum256([]byte(deviceURI))

	var u uuid.UUID
	copy(u[:], sum[16:32]) // bytes 16..31 of the digest

	// Version 3 in the high nibble of time_hi_and_version (byte 6).
	u[6] = (u[6] & 0x0f) | 0x30
	// Variant 10 in the top two bits of clock_seq_hi_and_reserved (byte 8).
	u[8] = (u[8] & 0x3f) | 0x80

	return u
}

// URN formats u as the urn:uuid: string the proxy sends as
// output-device-uuid on every infrastructure request.
func URN(u uuid.UUID) string {
	return "urn:uuid:" + u.String()
}

func localHostname() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "localhost"
	}
	return host
}
