// Package poller implements the Event Poller (C4): draining the
// subscription's notification queue, classifying events, and feeding
// actionable job ids into the Job Table for the worker to pick up.
package poller

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyra/ippproxyd/internal/ippattr"
	"github.com/cyra/ippproxyd/internal/ippclient"
	"github.com/cyra/ippproxyd/internal/ippmsg"
	"github.com/cyra/ippproxyd/internal/jobtable"
	"github.com/cyra/ippproxyd/internal/proxy"
)

const (
	defaultPollInterval = 10 * time.Second
	minPollInterval     = 0 * time.Second
	maxPollInterval     = 30 * time.Second
)

// Poller is Task E: it owns the infrastructure session used for reads
// (spec §5) and reconnects it after every inter-poll sleep, since the peer
// may have idle-closed the connection.
type Poller struct {
	pc             *proxy.Context
	user           string
	password       proxy.PasswordFunc
	subscriptionID int32
	seqNumber      int32
	log            zerolog.Logger

	session *ippclient.Session
}

// New builds a Poller bound to an already-created subscription. session is
// the live connection the registrar produced; the poller reconnects its
// own copy after every sleep but starts from this one.
func New(pc *proxy.Context, session *ippclient.Session, subscriptionID int32, user string, password proxy.PasswordFunc, log zerolog.Logger) *Poller {
	return &Poller{
		pc:             pc,
		user:           user,
		password:       password,
		subscriptionID: subscriptionID,
		seqNumber:      1,
		log:            log.With().Str("component", "poller").Logger(),
		session:        session,
	}
}

// StartupScan performs the one-time Get-Jobs scan spec §4.4 requires
// before the polling loop begins, seeding the Job Table with any job
// already in state pending or stopped.
func (p *Poller) StartupScan(ctx context.Context) error {
	req := ippmsg.NewRequest(ippmsg.OpGetJobs, 1, p.pc.PrinterURI(), p.pc.DeviceUUIDURN(), p.user)
	req.Operation()["which-jobs"] = ippattr.Keyword("fetchable")

	resp, err := p.session.Do(ctx, req, nil)
	if err != nil {
		return fmt.Errorf("startup get-jobs request: %w", err)
	}
	if !resp.Status().OK() {
		return fmt.Errorf("startup get-jobs failed with status %#x", resp.Code)
	}

	for _, job := range resp.GroupsWithTag(ippmsg.GroupJob) {
		id := int(job["job-id"].FirstInt())
		state := proxy.JobStateFromIPP(job["job-state"].FirstInt())
		if state != proxy.JobStatePending && state != proxy.JobStateStopped {
			continue
		}
		p.pc.Jobs.Insert(&jobtable.Record{
			RemoteJobID:    id,
			RemoteJobState: state,
			LocalJobState:  proxy.JobStatePending,
		})
	}
	return nil
}

// Run executes the poll loop until pc.Done(). It runs in its own
// goroutine; runCore starts it after StartupScan, whether or not the scan
// succeeded.
func (p *Poller) Run(ctx context.Context) {
	for !p.pc.Done() {
		interval, err := p.pollOnce(ctx)
		if err != nil {
			p.log.Warn().Err(err).Msg("get-notifications failed")
			interval = defaultPollInterval
		}

		if p.sleepInterruptibly(interval) {
			return
		}

		if p.pc.Done() {
			return
		}
		// The peer may have idle-closed the connection across the sleep
		// (spec §4.4 step 6); reconnect before the next poll.
		p.session = ippclient.New(p.pc.PrinterURI(), p.user, p.password, p.log)
		if err := p.session.EnsureReachable(ctx, p.pc.Done); err != nil {
			p.log.Warn().Err(err).Msg("reconnect failed")
			return
		}
	}
}

// pollOnce issues one Get-Notifications request, dispatches its events,
// and returns the clamped inter-poll interval.
func (p *Poller) pollOnce(ctx context.Context) (time.Duration, error) {
	req := ippmsg.NewRequest(ippmsg.OpGetNotifications, 1, p.pc.PrinterURI(), p.pc.DeviceUUIDURN(), p.user)
	op := req.Operation()
	op["notify-subscription-ids"] = ippattr.Integer(p.subscriptionID)
	op["notify-sequence-numbers"] = ippattr.Integer(p.seqNumber)
	op["notify-wait"] = ippattr.Boolean(false)

	resp, err := p.session.Do(ctx, req, nil)
	if err != nil {
		return defaultPollInterval, err
	}
	if !resp.Status().OK() {
		return defaultPollInterval, fmt.Errorf("get-notifications failed with status %#x", resp.Code)
	}

	op2 := resp.FirstGroup(ippmsg.GroupOperation)
	interval := clampInterval(op2["notify-get-interval"])

	p.dispatchEvents(ctx, resp.GroupsWithTag(ippmsg.GroupEventNotification))

	return interval, nil
}

// clampInterval reads notify-get-interval, defaulting to 10s when absent
// and clamping to [0, 30]s otherwise (spec §4.4 step 2, §8 boundary case).
func clampInterval(v ippattr.Value) time.Duration {
	if len(v.Ints) == 0 {
		return defaultPollInterval
	}
	seconds := v.FirstInt()
	switch {
	case seconds < 0:
		return minPollInterval
	case seconds > 30:
		return maxPollInterval
	default:
		return time.Duration(seconds) * time.Second
	}
}

// dispatchEvents walks the event-notification-attributes groups strictly
// in response order (spec §4.4 step 3/§5 ordering guarantee), treating
// each group as the sole record boundary — the open question in spec §9
// about group-boundary ambiguity is resolved that way deliberately.
func (p *Poller) dispatchEvents(ctx context.Context, groups []ippattr.Set) {
	var maxSeen int32
	for _, g := range groups {
		seq := g["notify-sequence-number"].FirstInt()
		if seq > maxSeen {
			maxSeen = seq
		}

		event := g["notify-subscribed-event"].FirstString()
		switch event {
		case "job-fetchable":
			p.handleJobFetchable(g)
		case "job-state-changed":
			p.handleJobStateChanged(g)
		}

		if reasons := g["printer-state-reasons"]; containsString(reasons.Strings, "identify-printer-requested") {
			p.handleIdentifyPrinter(ctx)
		}
	}

	// seq_number advances to one past the maximum observed (spec §4.4
	// step 4; §8: "strictly greater than every notify-sequence-number").
	if maxSeen >= p.seqNumber {
		p.seqNumber = maxSeen + 1
	}
}

func (p *Poller) handleJobFetchable(g ippattr.Set) {
	id := int(jobID(g))
	if p.pc.Jobs.Lookup(id) != nil {
		return
	}
	state := proxy.JobStateFromIPP(g["job-state"].FirstInt())
	p.pc.Jobs.Insert(&jobtable.Record{
		RemoteJobID:    id,
		RemoteJobState: state,
		LocalJobState:  proxy.JobStatePending,
	})
	p.pc.Jobs.Signal()
}

func (p *Poller) handleJobStateChanged(g ippattr.Set) {
	id := int(jobID(g))
	rec := p.pc.Jobs.Lookup(id)
	if rec == nil {
		return
	}
	rec.RemoteJobState = proxy.JobStateFromIPP(g["job-state"].FirstInt())
	p.pc.Jobs.Signal()
}

// jobID reads job-id, falling back to notify-job-id (spec §4.4 step 3
// names both as acceptable carriers).
func jobID(g ippattr.Set) int32 {
	if v, ok := g["job-id"]; ok {
		return v.FirstInt()
	}
	return g["notify-job-id"].FirstInt()
}

func containsString(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}

// handleIdentifyPrinter acknowledges the identify request and relays it to
// the log collaborator: a visible line for "display", an audible bell for
// "sound" or when identify-actions is absent entirely (spec §4.4 step 5).
func (p *Poller) handleIdentifyPrinter(ctx context.Context) {
	req := ippmsg.NewRequest(ippmsg.OpAcknowledgeIdentifyPrinter, 1, p.pc.PrinterURI(), p.pc.DeviceUUIDURN(), p.user)
	resp, err := p.session.Do(ctx, req, nil)
	if err != nil {
		p.log.Warn().Err(err).Msg("acknowledge-identify-printer failed")
		return
	}
	if !resp.Status().OK() {
		p.log.Warn().Uint16("status", resp.Code).Msg("acknowledge-identify-printer returned an error status")
		return
	}

	op := resp.FirstGroup(ippmsg.GroupOperation)
	actions := op["identify-actions"].Strings
	message := op["message"].FirstString()

	if containsString(actions, "display") {
		p.log.Info().Str("message", message).Msg("identify-printer: display")
	}
	if containsString(actions, "sound") || len(actions) == 0 {
		fmt.Fprint(os.Stdout, "\a")
	}
}

// sleepInterruptibly sleeps for d in one-second increments, checking
// pc.Done() between each so shutdown is responsive (spec §4.4 step 6,
// §5 suspension points). Returns true if shutdown was observed.
func (p *Poller) sleepInterruptibly(d time.Duration) bool {
	remaining := d
	for remaining > 0 {
		if p.pc.Done() {
			return true
		}
		step := time.Second
		if remaining < step {
			step = remaining
		}
		time.Sleep(step)
		remaining -= step
	}
	return p.pc.Done()
}
