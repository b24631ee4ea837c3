package offer

import "time"

// RetrySchedule maps retry numbers to follow-up delays.
type RetrySchedule struct {
	delays        []time.Duration
	finalDeadline time.Duration
	maxRetries    int
}

// NewRetrySchedule builds a schedule. delays[i] is the wait before retry i+1;
// finalDeadline is the wait after the last retry before the lead is closed.
func NewRetrySchedule(delays []time.Duration, finalDeadline time.Duration, maxRetries int) RetrySchedule {
	if maxRetries > len(delays) {
		maxRetries = len(delays)
	}
	return RetrySchedule{delays: delays, finalDeadline: finalDeadline, maxRetries: maxRetries}
}

func (s RetrySchedule) MaxRetries() int {
	return s.maxRetries
}

// Delay returns the wait before retry n (1-based).
func (s RetrySchedule) Delay(n int) time.Duration {
	if n < 1 || n > len(s.delays) {
		return s.finalDeadline
	}
	return s.delays[n-1]
}

// FirstRetryAt is when retry 1 becomes due after an offer is rejected.
func (s RetrySchedule) FirstRetryAt(now time.Time) time.Time {
	return now.Add(s.Delay(1))
}

// NextAfter returns when the next action is due once retry n has been sent: the
// next retry, or the final deadline after the last one.
func (s RetrySchedule) NextAfter(n int, now time.Time) time.Time {
	if n >= s.maxRetries {
		return s.Deadline(now)
	}
	return now.Add(s.Delay(n + 1))
}

// Deadline is when the final offer expires if the last retry is sent at now.
func (s RetrySchedule) Deadline(now time.Time) time.Time {
	return now.Add(s.finalDeadline)
}
