package batch

import "fmt"

// JobTimeoutError reports that a wait deadline elapsed before the job
// reached a terminal state, or that no staged output could be found
// for any attempt. It carries the staging location searched so callers
// can inspect it.
type JobTimeoutError struct {
	JobID    string
	Bucket   string
	Location string
}

func (e *JobTimeoutError) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("job %s produced no output under s3://%s/%s", e.JobID, e.Bucket, e.Location)
	}
	return fmt.Sprintf("job %s did not reach a terminal state before the deadline", e.JobID)
}

// JobFailedError reports a job that ended FAILED with its retry
// ceiling exhausted.
type JobFailedError struct {
	JobID  string
	Reason string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Reason)
}
