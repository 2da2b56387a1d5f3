// Package jobtable implements the Job Table (C5): a concurrent, ordered
// mapping from remote job identifier to job record. Ordered iteration is
// required (spec §4.6) so the worker always picks the oldest eligible job
// first; a hash map cannot give that, so records are kept in a slice, sorted
// by RemoteJobID, guarded by a reader/writer lock (spec §5, §9).
package jobtable

import (
	"sort"
	"sync"

	"github.com/cyra/ippproxyd/internal/proxy"
)

// Record is one job's bookkeeping row (spec §3 "Job record"). While the
// worker is executing a job, only it may mutate LocalJobID/LocalJobState;
// the poller may only mutate RemoteJobState. Callers must hold the table's
// lock (via Table's accessor methods) before touching a Record's fields.
type Record struct {
	RemoteJobID    int
	RemoteJobState proxy.JobState
	LocalJobID     int
	LocalJobState  proxy.JobState
}

// Table is the Job Table itself. The zero value is not ready to use; call
// New.
type Table struct {
	mu      sync.RWMutex
	records []*Record // kept sorted ascending by RemoteJobID

	cond *sync.Cond // distinct mutex from mu, per spec §5's "shared-resource
	// policy": the condition's associated mutex is used only for the
	// wait/signal handshake, never for table reads/writes.
	condMu sync.Mutex
}

// New returns an empty Job Table.
func New() *Table {
	t := &Table{}
	t.cond = sync.NewCond(&t.condMu)
	return t
}

// Insert adds rec to the table, keeping it sorted by RemoteJobID. If a
// record for the same RemoteJobID already exists, Insert is a no-op —
// spec §3's invariant that records are uniquely keyed by RemoteJobID.
func (t *Table) Insert(rec *Record) (inserted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.indexOfLocked(rec.RemoteJobID)
	if i < len(t.records) && t.records[i].RemoteJobID == rec.RemoteJobID {
		return false
	}
	t.records = append(t.records, nil)
	copy(t.records[i+1:], t.records[i:])
	t.records[i] = rec
	return true
}

// Lookup returns the record for id, or nil if none exists.
func (t *Table) Lookup(id int) *Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i := t.indexOfLocked(id)
	if i < len(t.records) && t.records[i].RemoteJobID == id {
		return t.records[i]
	}
	return nil
}

// Remove deletes the record for id, if present.
func (t *Table) Remove(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexOfLocked(id)
	if i < len(t.records) && t.records[i].RemoteJobID == id {
		t.records = append(t.records[:i], t.records[i+1:]...)
	}
}

// Range calls fn for every record in ascending RemoteJobID order, stopping
// early if fn returns false. fn must not call back into the table.
func (t *Table) Range(fn func(*Record) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.records {
		if !fn(r) {
			return
		}
	}
}

// FirstEligible returns the first (lowest RemoteJobID) record with
// LocalJobState == pending and RemoteJobState < canceled, or nil — the
// scan the worker (C6) performs at the top of its loop (spec §4.6 step 1).
func (t *Table) FirstEligible() *Record {
	var found *Record
	t.Range(func(r *Record) bool {
		if r.LocalJobState == proxy.JobStatePending && r.RemoteJobState < proxy.JobStateCanceled {
			found = r
			return false
		}
		return true
	})
	return found
}

// PruneTerminal removes every record whose RemoteJobState has reached a
// terminal state (spec §3: "eligible for pruning iff remote_job_state >=
// canceled"). Returns the count removed.
func (t *Table) PruneTerminal() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.records[:0]
	removed := 0
	for _, r := range t.records {
		if r.RemoteJobState.Terminal() {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	t.records = kept
	return removed
}

// Len returns the current record count.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Snapshot returns a shallow copy of every record, in order, for read-only
// introspection (e.g. the CLI's -list-jobs flag).
func (t *Table) Snapshot() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Record, len(t.records))
	for i, r := range t.records {
		out[i] = *r
	}
	return out
}

// indexOfLocked returns the insertion/lookup index for id via binary
// search. Caller must hold t.mu.
func (t *Table) indexOfLocked(id int) int {
	return sort.Search(len(t.records), func(i int) bool {
		return t.records[i].RemoteJobID >= id
	})
}

// Signal wakes one goroutine blocked in Wait — used by the poller (C4)
// after inserting a job-fetchable record or updating a job-state-changed
// record, so the worker (C6) doesn't wait out its full idle timeout.
func (t *Table) Signal() {
	t.condMu.Lock()
	t.cond.Signal()
	t.condMu.Unlock()
}

// Wait blocks until Signal is called or timeout elapses, whichever is
// first — the worker's idle wait (spec §4.6 step 3, §5 "suspension
// points"). It never holds the table's own RWMutex while waiting.
func (t *Table) Wait(timeout <-chan struct{}) {
	done := make(chan struct{})
	go func() {
		t.condMu.Lock()
		t.cond.Wait()
		t.condMu.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-timeout:
		// Wake the helper goroutine so it doesn't leak: a spurious
		// broadcast is harmless since callers re-check table state after
		// every Wait return.
		t.condMu.Lock()
		t.cond.Broadcast()
		t.condMu.Unlock()
		<-done
	}
}
