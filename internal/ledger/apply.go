package ledger

import "fmt"

// ApplyJobUpdate applies upd to job in place. It is shared by the stores so
// that transition rules are enforced identically everywhere.
func ApplyJobUpdate(job *Job, upd JobUpdate) error {
	if upd.Status != nil && *upd.Status != job.Status {
		if !job.Status.CanTransition(*upd.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, *upd.Status)
		}
		job.Status = *upd.Status
	}
	if upd.Counts != nil {
		job.Counts = *upd.Counts
	}
	if upd.ErrorMessage != nil {
		job.ErrorMessage = *upd.ErrorMessage
	}
	if upd.ErrorDetails != nil {
		job.ErrorDetails = append([]string(nil), upd.ErrorDetails...)
	}
	if upd.Summary != nil {
		job.Summary = append([]byte(nil), upd.Summary...)
	}
	if upd.StartedAt != nil {
		t := *upd.StartedAt
		job.StartedAt = &t
	}
	if upd.CompletedAt != nil {
		t := *upd.CompletedAt
		job.CompletedAt = &t
	}
	return nil
}
