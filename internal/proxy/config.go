// Package proxy holds the proxy-wide context and configuration: the
// process-level state spec §3 and §9 require to live in one explicit
// struct rather than behind package-level singletons.
package proxy

import "time"

// PasswordFunc is the authentication collaborator spec §6 describes: the
// core calls out to it with the realm/resource being authenticated against
// and never caches the result beyond a single request-response.
type PasswordFunc func(realm, resource string) (string, error)

// Config is the external collaborator's configured context (spec §6):
// everything main/CLI parsing hands the core before it starts.
type Config struct {
	InfrastructureURI      string
	DeviceURI              string
	PreferredOutputFormat  string
	Username               string
	Password               PasswordFunc
	Verbose                bool

	// PollIntervalFloor/Ceiling are filled from the config file's poll
	// section; defaults are 0 and 30 seconds. The poller does not read
	// them: it clamps notify-get-interval to its own fixed [0, 30]s range.
	PollIntervalFloor time.Duration
	PollIntervalCeiling time.Duration

	// WorkerIdleTimeout bounds the worker's idle wait on the job-table
	// condition (spec §4.6 step 3); default 15 seconds.
	WorkerIdleTimeout time.Duration
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		PollIntervalFloor:   0,
		PollIntervalCeiling: 30 * time.Second,
		WorkerIdleTimeout:   15 * time.Second,
	}
}
