// Package retry runs a processing attempt up to a bounded number of times
// with exponential backoff between attempts. Only transient collaborator
// failures are retried; everything else surfaces on the first attempt.
package retry
