// Package events carries state-change notifications from the processing
// pipeline to observers.
//
// # Bus
//
// Producers call Bus.Publish, which only enqueues onto a bounded channel and
// never blocks. A single Bus.Run goroutine drains the queue into the
// Broadcaster. When the queue is full the event is dropped and counted.
//
// # Broadcaster
//
// The Broadcaster fans events out to subscribers. A subscriber either follows
// one conversation id or every conversation (AllConversations). Each
// subscriber has its own buffered channel; slow subscribers lose events
// rather than stall the pipeline.
//
// # Event kinds
//
//   - newConversation, newMessage, conversationUpdate, conversationClosed:
//     payload is a *conversation.Snapshot taken after the mutation committed
//   - reconnectNeeded: payload is a ReconnectNotice
//   - webhookSummary: payload is the ingest summary for one webhook delivery
package events
