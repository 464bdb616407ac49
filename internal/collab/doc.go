// Package collab defines the external capabilities the message pipeline
// depends on and ships concrete clients for them.
//
// The interfaces are small and consumer-shaped:
//
//   - Channel sends text and voice to a user, downloads inbound media and
//     marks messages read. WhatsApp (Cloud API) and Matrix implement it.
//   - Speech transcribes audio and synthesizes replies.
//   - Assistant answers a categorized user message and can reset its
//     per-category session.
//   - Drafter turns a conversation into a structured legal claim.
//   - Mailer delivers a drafted document by email.
//
// Every client failure is returned as a *conversation.CollaboratorError so
// the retry policy can tell transient failures from permanent ones.
package collab
