package analysis

import (
	"math"
	"time"
)

// EstimateRemaining projects how many seconds of work are left for a job
// based on the average time per completed URL. It returns nil until at
// least one URL has finished, and nil again once the job has no URLs left.
func EstimateRemaining(started *time.Time, now time.Time, progress Progress) *int {
	if started == nil || progress.Completed <= 0 {
		return nil
	}
	remaining := progress.Total - progress.Completed
	if remaining <= 0 {
		return nil
	}
	elapsed := now.Sub(*started)
	if elapsed <= 0 {
		return nil
	}
	perURL := elapsed.Seconds() / float64(progress.Completed)
	est := int(math.Ceil(perURL * float64(remaining)))
	return &est
}
