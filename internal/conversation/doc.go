// Package conversation holds live conversation state.
//
// # Records
//
// A Record is one end user's session: an append-only message log, a sticky
// claim category, typed metadata and three timestamps (start, last update,
// last heartbeat). Records are created on the first inbound message from an
// unseen conversation id and removed when they are closed.
//
// Two locks protect a record:
//
//   - a data lock held only while reading or mutating fields
//   - a turn lock held for the whole processing of one inbound message, so
//     turns for the same conversation run one at a time while different
//     conversations proceed in parallel
//
// # Registry
//
// The Registry maps conversation ids to records. Its lock guards the map only
// and is never held across collaborator calls.
//
// # Service
//
// The Service wraps the registry with lifecycle operations (Ensure, Heartbeat,
// Close) and publishes an event after each committed change:
//
//	svc := conversation.NewService(registry, bus, archive, logger)
//	rec, created, err := svc.Ensure(id, address, profile)
//
// # Errors
//
// errors.go defines the pipeline's error taxonomy. Sentinel errors are
// permanent; *CollaboratorError marks failures at an external collaborator
// and is retry-eligible unless flagged permanent.
package conversation
