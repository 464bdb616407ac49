// ABOUTME: Package webhook turns channel deliveries into processed conversation turns
// ABOUTME: Envelope checks, per-message validation, idempotency, retries and the HTTP entry point

// Package webhook is the ingestion edge of the gateway.
//
// An inbound delivery is checked as a whole first: an unrecognised object
// discriminator or a missing entry list rejects the request with
// conversation.ErrInvalidPayload and nothing is processed. Past that point
// every message stands alone. A message that fails structural validation,
// or whose processing fails after retries, is counted in the summary's
// error total while its siblings carry on.
//
// For each accepted message the Ingestor:
//
//  1. skips redeliveries of a (conversation, message id) pair still inside
//     the dedupe window,
//  2. takes the turn lock of the live conversation, creating it on first
//     contact or when the previous one closed while the message waited,
//  3. appends the inbound message and marks it read, then sends the welcome
//     to a new conversation,
//  4. runs the processor through the retry coordinator.
//
// A message that does not end up processed is released from the dedupe
// window, so a redelivery runs it again in place. The HTTP handler detaches
// ingestion from the request context; collaborators bound each call.
// MatrixSource feeds each room through its own queue, in sync order.
//
// Delivery statuses update the matching outbound message in place; a
// "deleted" status resets the conversation.
//
// The same Ingestor serves the WhatsApp Cloud HTTP webhook (Handler) and
// the Matrix sync loop (MatrixSource).
package webhook
