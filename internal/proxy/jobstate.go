package proxy

// JobState mirrors the IPP job-state enumeration (RFC 8011 §5.3.7),
// extended with the proxy's own "held"/"stopped" distinction spec §3
// requires the job record to carry.
type JobState int

const (
	JobStateUnknown JobState = iota
	JobStatePending
	JobStateHeld
	JobStateProcessing
	JobStateStopped
	JobStateCanceled
	JobStateAborted
	JobStateCompleted
)

// IPP job-state enum values (RFC 8011 §5.3.7), used when decoding
// job-state attributes off the wire.
const (
	IPPJobPending    = 3
	IPPJobHeld       = 4
	IPPJobProcessing = 5
	IPPJobStopped    = 6
	IPPJobCanceled   = 7
	IPPJobAborted    = 8
	IPPJobCompleted  = 9
)

// JobStateFromIPP maps a raw job-state enum value to JobState.
func JobStateFromIPP(v int32) JobState {
	switch v {
	case IPPJobPending:
		return JobStatePending
	case IPPJobHeld:
		return JobStateHeld
	case IPPJobProcessing:
		return JobStateProcessing
	case IPPJobStopped:
		return JobStateStopped
	case IPPJobCanceled:
		return JobStateCanceled
	case IPPJobAborted:
		return JobStateAborted
	case IPPJobCompleted:
		return JobStateCompleted
	default:
		return JobStateUnknown
	}
}

// IPP returns the wire enum value for s.
func (s JobState) IPP() int32 {
	switch s {
	case JobStatePending:
		return IPPJobPending
	case JobStateHeld:
		return IPPJobHeld
	case JobStateProcessing:
		return IPPJobProcessing
	case JobStateStopped:
		return IPPJobStopped
	case JobStateCanceled:
		return IPPJobCanceled
	case JobStateAborted:
		return IPPJobAborted
	case JobStateCompleted:
		return IPPJobCompleted
	default:
		return 0
	}
}

// Terminal reports whether s is a state the job will never leave
// (spec §3: "eligible for pruning iff remote_job_state >= canceled").
func (s JobState) Terminal() bool {
	return s >= JobStateCanceled
}

func (s JobState) String() string {
	switch s {
	case JobStatePending:
		return "pending"
	case JobStateHeld:
		return "held"
	case JobStateProcessing:
		return "processing"
	case JobStateStopped:
		return "stopped"
	case JobStateCanceled:
		return "canceled"
	case JobStateAborted:
		return "aborted"
	case JobStateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}
