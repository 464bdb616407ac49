// Package processor is the dispatch core of the gateway. For one inbound
// message it detects channel reset events, routes text, audio and document
// messages to the right collaborators, answers document requests, decides
// between voice and text replies and records the outcome on the
// conversation.
//
// Callers serialize turns per conversation: Process, Welcome and the
// unexported handlers assume the record's turn lock is held. Reset takes
// the lock itself.
//
// Failure policy:
//
//   - Text turns never return an error. A failed turn sends an apology,
//     is recorded on the message and reported as (false, nil).
//   - Audio turns send a voice-specific apology and return the error so
//     the retry coordinator can act on it.
//   - Unsupported message types fail with conversation.ErrUnsupportedMessageType.
package processor
