// Package worker implements the Job Worker (C6): the single state machine
// that pulls a fetchable job off the Job Table, drives it through
// Fetch-Job/Acknowledge-Job/{Fetch,Acknowledge}-Document, hands each
// document to the Transport Adapter, and reports status back to the
// infrastructure printer.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"

	"github.com/cyra/ippproxyd/internal/ippattr"
	"github.com/cyra/ippproxyd/internal/ippclient"
	"github.com/cyra/ippproxyd/internal/ippmsg"
	"github.com/cyra/ippproxyd/internal/jobtable"
	"github.com/cyra/ippproxyd/internal/proxy"
	"github.com/cyra/ippproxyd/internal/transport"
)

// idleWaitTimeout bounds the worker's condition wait when the table has no
// eligible job (spec §4.6 step 3: "a 15-second timeout as a liveness
// backstop").
const idleWaitTimeout = 15 * time.Second

// stateFetched is the one state the job state machine visits that has no
// corresponding proxy.JobState value — it sits between Fetch-Job succeeding
// and Acknowledge-Job succeeding (spec §4.6's diagram).
const stateFetched = "fetched"

const (
	evFetched      = "fetched"
	evNotFetchable = "not_fetchable"
	evFetchFailed  = "fetch_failed"
	evAcked        = "acked"
	evDocsDone     = "docs_done"
	evDocFailed    = "doc_failed"
	evCanceled     = "canceled"
)

var jobFsmEvts = []fsm.EventDesc{
	{Name: evFetched, Src: []string{proxy.JobStatePending.String()}, Dst: stateFetched},
	{Name: evNotFetchable, Src: []string{proxy.JobStatePending.String()}, Dst: proxy.JobStateCompleted.String()},
	{Name: evFetchFailed, Src: []string{proxy.JobStatePending.String()}, Dst: proxy.JobStateAborted.String()},
	{Name: evAcked, Src: []string{stateFetched}, Dst: proxy.JobStateProcessing.String()},
	{Name: evDocsDone, Src: []string{proxy.JobStateProcessing.String()}, Dst: proxy.JobStateCompleted.String()},
	{Name: evDocFailed, Src: []string{stateFetched, proxy.JobStateProcessing.String()}, Dst: proxy.JobStateAborted.String()},
	{
		Name: evCanceled,
		Src:  []string{proxy.JobStatePending.String(), stateFetched, proxy.JobStateProcessing.String()},
		Dst:  proxy.JobStateCanceled.String(),
	},
}

// Worker is Task W: it owns its own infrastructure session, reconnecting it
// between jobs rather than mid-job (spec §5, §4.6: "connection loss during
// the state machine aborts the current job").
type Worker struct {
	pc       *proxy.Context
	user     string
	password proxy.PasswordFunc
	log      zerolog.Logger

	// IdleTimeout overrides idleWaitTimeout when non-zero, letting the
	// configured proxy.Config.WorkerIdleTimeout take effect.
	IdleTimeout time.Duration
}

// New builds a Worker bound to pc.
func New(pc *proxy.Context, user string, password proxy.PasswordFunc, log zerolog.Logger) *Worker {
	return &Worker{
		pc:       pc,
		user:     user,
		password: password,
		log:      log.With().Str("component", "worker").Logger(),
	}
}

func (w *Worker) idleTimeout() time.Duration {
	if w.IdleTimeout > 0 {
		return w.IdleTimeout
	}
	return idleWaitTimeout
}

// Run executes the scan/work/idle-wait loop until pc.Done() (spec §4.6).
func (w *Worker) Run(ctx context.Context) {
	session := ippclient.New(w.pc.PrinterURI(), w.user, w.password, w.log)
	if err := session.EnsureReachable(ctx, w.pc.Done); err != nil {
		w.log.Warn().Err(err).Msg("worker session unreachable at startup")
		return
	}

	for !w.pc.Done() {
		rec := w.pc.Jobs.FirstEligible()
		if rec == nil {
			if pruned := w.pc.Jobs.PruneTerminal(); pruned > 0 {
				w.log.Debug().Int("count", pruned).Msg("pruned terminal job records")
			}
			w.pc.Jobs.Wait(idleTimeoutChan(w.idleTimeout()))
			continue
		}

		w.runJob(ctx, session, rec)

		session = ippclient.New(w.pc.PrinterURI(), w.user, w.password, w.log)
		if err := session.EnsureReachable(ctx, w.pc.Done); err != nil {
			w.log.Warn().Err(err).Msg("worker session reconnect failed")
			return
		}
	}
}

// runJob drives one record through the job state machine end to end.
func (w *Worker) runJob(ctx context.Context, session *ippclient.Session, rec *jobtable.Record) {
	log := w.log.With().Int("job-id", rec.RemoteJobID).Logger()
	sm := newJobFSM(rec)

	fetchResp, err := w.fetchJob(ctx, session, rec.RemoteJobID)
	if err != nil {
		log.Warn().Err(err).Msg("fetch-job failed")
		fireEvent(sm, ctx, evFetchFailed, log)
		return
	}
	if fetchResp.Status().NotFetchable() {
		// Already claimed elsewhere; not an error (spec §7).
		fireEvent(sm, ctx, evNotFetchable, log)
		return
	}
	if !fetchResp.Status().OK() {
		log.Warn().Uint16("status", fetchResp.Code).Msg("fetch-job returned an error status")
		fireEvent(sm, ctx, evFetchFailed, log)
		return
	}
	fireEvent(sm, ctx, evFetched, log)

	job := fetchResp.FirstGroup(ippmsg.GroupJob)
	if job == nil {
		job = ippattr.Set{}
	}
	numDocs := int(job["number-of-documents"].FirstInt())
	if numDocs < 1 {
		numDocs = 1
	}
	format := w.chooseOutputFormat()

	if err := w.acknowledgeJob(ctx, session, rec.RemoteJobID); err != nil {
		log.Warn().Err(err).Msg("acknowledge-job failed")
		fireEvent(sm, ctx, evDocFailed, log)
		return
	}
	fireEvent(sm, ctx, evAcked, log)
	w.updateJobStatus(ctx, session, rec.RemoteJobID, proxy.JobStateProcessing)

	for d := 1; d <= numDocs && rec.RemoteJobState < proxy.JobStateAborted; d++ {
		if !w.runDocument(ctx, session, rec, job, format, d, log) {
			fireEvent(sm, ctx, evDocFailed, log)
			w.updateJobStatus(ctx, session, rec.RemoteJobID, rec.LocalJobState)
			return
		}
		if rec.LocalJobState == proxy.JobStateCanceled {
			fireEvent(sm, ctx, evCanceled, log)
			w.updateJobStatus(ctx, session, rec.RemoteJobID, rec.LocalJobState)
			return
		}
	}

	fireEvent(sm, ctx, evDocsDone, log)
	w.updateJobStatus(ctx, session, rec.RemoteJobID, rec.LocalJobState)
}

// runDocument fetches and delivers document d, reporting status as it goes.
// Returns false if anything failed badly enough to abort the whole job.
func (w *Worker) runDocument(ctx context.Context, session *ippclient.Session, rec *jobtable.Record, job ippattr.Set, format string, d int, log zerolog.Logger) bool {
	if err := w.updateDocumentStatus(ctx, session, rec.RemoteJobID, d, proxy.JobStateProcessing); err != nil {
		log.Warn().Err(err).Int("document", d).Msg("update-document-status(processing) failed")
	}

	docResp, docBytes, err := w.fetchDocument(ctx, session, rec.RemoteJobID, d, format)
	if err != nil {
		log.Warn().Err(err).Int("document", d).Msg("fetch-document failed")
		return false
	}
	if !docResp.Status().OK() {
		log.Warn().Uint16("status", docResp.Code).Int("document", d).Msg("fetch-document returned an error status")
		return false
	}

	op := docResp.FirstGroup(ippmsg.GroupOperation)
	result, err := transport.Deliver(ctx, w.pc.DeviceURI(), w.password, w.log, transport.Request{
		DocumentFormat:   format,
		Compression:      op["compression"].FirstString(),
		OperationAttrs:   job,
		JobTemplateAttrs: job,
		Document:         bytes.NewReader(docBytes),
	}, func() bool { return rec.RemoteJobState == proxy.JobStateCanceled })
	if err != nil {
		log.Warn().Err(err).Int("document", d).Msg("transport delivery failed")
		return false
	}
	rec.LocalJobID = result.LocalJobID
	rec.LocalJobState = result.State

	if result.State == proxy.JobStateCanceled {
		return true
	}

	if err := w.acknowledgeDocument(ctx, session, rec.RemoteJobID, d); err != nil {
		log.Warn().Err(err).Int("document", d).Msg("acknowledge-document failed")
		return false
	}
	if err := w.updateDocumentStatus(ctx, session, rec.RemoteJobID, d, proxy.JobStateCompleted); err != nil {
		log.Warn().Err(err).Int("document", d).Msg("update-document-status(completed) failed")
	}
	return true
}

// chooseOutputFormat implements spec §4.6's output format selection: an
// explicit override wins outright; otherwise application/pdf if the device
// advertises it, else the first supported candidate in fallback order, else
// no override at all (the infrastructure chooses).
func (w *Worker) chooseOutputFormat() string {
	if w.pc.PreferredOutputFormat != "" {
		return w.pc.PreferredOutputFormat
	}

	supported := w.pc.DeviceAttrs()["document-format-supported"].Strings
	if containsString(supported, "application/pdf") {
		return "application/pdf"
	}
	for _, candidate := range []string{"image/urf", "image/pwg-raster", "application/vnd.hp-pcl"} {
		if containsString(supported, candidate) {
			return candidate
		}
	}
	return ""
}

func containsString(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}

func newJobFSM(rec *jobtable.Record) *fsm.FSM {
	return fsm.NewFSM(
		proxy.JobStatePending.String(),
		jobFsmEvts,
		fsm.Callbacks{
			evNotFetchable: func(ctx context.Context, e *fsm.Event) { rec.LocalJobState = proxy.JobStateCompleted },
			evFetchFailed:  func(ctx context.Context, e *fsm.Event) { rec.LocalJobState = proxy.JobStateAborted },
			evAcked:        func(ctx context.Context, e *fsm.Event) { rec.LocalJobState = proxy.JobStateProcessing },
			evDocsDone:     func(ctx context.Context, e *fsm.Event) { rec.LocalJobState = proxy.JobStateCompleted },
			evDocFailed:    func(ctx context.Context, e *fsm.Event) { rec.LocalJobState = proxy.JobStateAborted },
			evCanceled:     func(ctx context.Context, e *fsm.Event) { rec.LocalJobState = proxy.JobStateCanceled },
		},
	)
}

func fireEvent(sm *fsm.FSM, ctx context.Context, event string, log zerolog.Logger) {
	if err := sm.Event(ctx, event); err != nil {
		log.Warn().Err(err).Str("event", event).Msg("job state machine rejected event")
	}
}

func (w *Worker) fetchJob(ctx context.Context, session *ippclient.Session, remoteJobID int) (*ippmsg.Message, error) {
	req := ippmsg.NewRequest(ippmsg.OpFetchJob, 1, w.pc.PrinterURI(), w.pc.DeviceUUIDURN(), w.user)
	req.Operation()["job-id"] = ippattr.Integer(int32(remoteJobID))
	return session.Do(ctx, req, nil)
}

func (w *Worker) acknowledgeJob(ctx context.Context, session *ippclient.Session, remoteJobID int) error {
	req := ippmsg.NewRequest(ippmsg.OpAcknowledgeJob, 1, w.pc.PrinterURI(), w.pc.DeviceUUIDURN(), w.user)
	req.Operation()["job-id"] = ippattr.Integer(int32(remoteJobID))
	resp, err := session.Do(ctx, req, nil)
	if err != nil {
		return err
	}
	if !resp.Status().OK() {
		return fmt.Errorf("acknowledge-job failed with status %#x", resp.Code)
	}
	return nil
}

func (w *Worker) fetchDocument(ctx context.Context, session *ippclient.Session, remoteJobID, docNumber int, format string) (*ippmsg.Message, []byte, error) {
	req := ippmsg.NewRequest(ippmsg.OpFetchDocument, 1, w.pc.PrinterURI(), w.pc.DeviceUUIDURN(), w.user)
	op := req.Operation()
	op["job-id"] = ippattr.Integer(int32(remoteJobID))
	op["document-number"] = ippattr.Integer(int32(docNumber))
	if format != "" {
		op["document-format-accepted"] = ippattr.MimeMediaType(format)
	}
	return session.DoWithTrailer(ctx, req, nil)
}

func (w *Worker) acknowledgeDocument(ctx context.Context, session *ippclient.Session, remoteJobID, docNumber int) error {
	req := ippmsg.NewRequest(ippmsg.OpAcknowledgeDocument, 1, w.pc.PrinterURI(), w.pc.DeviceUUIDURN(), w.user)
	op := req.Operation()
	op["job-id"] = ippattr.Integer(int32(remoteJobID))
	op["document-number"] = ippattr.Integer(int32(docNumber))
	resp, err := session.Do(ctx, req, nil)
	if err != nil {
		return err
	}
	if !resp.Status().OK() {
		return fmt.Errorf("acknowledge-document failed with status %#x", resp.Code)
	}
	return nil
}

func (w *Worker) updateDocumentStatus(ctx context.Context, session *ippclient.Session, remoteJobID, docNumber int, state proxy.JobState) error {
	req := ippmsg.NewRequest(ippmsg.OpUpdateDocumentStatus, 1, w.pc.PrinterURI(), w.pc.DeviceUUIDURN(), w.user)
	op := req.Operation()
	op["job-id"] = ippattr.Integer(int32(remoteJobID))
	op["document-number"] = ippattr.Integer(int32(docNumber))
	op["output-device-document-state"] = ippattr.Enum(state.IPP())
	resp, err := session.Do(ctx, req, nil)
	if err != nil {
		return err
	}
	if !resp.Status().OK() {
		return fmt.Errorf("update-document-status failed with status %#x", resp.Code)
	}
	return nil
}

// updateJobStatus reports state as the job's output-device-job-state: once
// with processing after Acknowledge-Job, and once with the final local
// state when the job ends. It is best-effort: failures are logged, not
// returned, and do not change the job's local state.
func (w *Worker) updateJobStatus(ctx context.Context, session *ippclient.Session, remoteJobID int, state proxy.JobState) {
	req := ippmsg.NewRequest(ippmsg.OpUpdateJobStatus, 1, w.pc.PrinterURI(), w.pc.DeviceUUIDURN(), w.user)
	op := req.Operation()
	op["job-id"] = ippattr.Integer(int32(remoteJobID))
	op["output-device-job-state"] = ippattr.Enum(state.IPP())

	resp, err := session.Do(ctx, req, nil)
	if err != nil {
		w.log.Warn().Err(err).Int("job-id", remoteJobID).Msg("update-job-status failed")
		return
	}
	if !resp.Status().OK() {
		w.log.Warn().Uint16("status", resp.Code).Int("job-id", remoteJobID).Msg("update-job-status returned an error status")
	}
}

func idleTimeoutChan(d time.Duration) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		time.Sleep(d)
		close(ch)
	}()
	return ch
}
