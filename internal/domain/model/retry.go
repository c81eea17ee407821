package model

import "time"

// RenewalRetryIntervals is the delay before the next recurring charge,
// indexed by the number of earlier canceled payments on the invoice.
var RenewalRetryIntervals = []time.Duration{
	12 * time.Hour,
	10 * time.Hour,
	12 * time.Hour,
	10 * time.Hour,
	12 * time.Hour,
	10 * time.Hour,
	24*time.Hour + 12*time.Hour,
	24*time.Hour + 10*time.Hour,
	24*time.Hour + 12*time.Hour,
	24*time.Hour + 10*time.Hour,
	48*time.Hour + 12*time.Hour,
	48*time.Hour + 10*time.Hour,
}

// NextRetry returns the retry delay after priorCanceled failures.
// ok is false once the table is exhausted.
func NextRetry(table []time.Duration, priorCanceled int) (delay time.Duration, ok bool) {
	if priorCanceled < 0 || priorCanceled >= len(table) {
		return 0, false
	}
	return table[priorCanceled], true
}
