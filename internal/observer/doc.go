// Package observer pushes conversation events to dashboards over WebSocket.
//
// Each client connection subscribes to the events.Broadcaster, either for
// every conversation or for the one named by the ?conversation= query
// parameter. Events are written as the JSON form of events.Event.
//
// # Liveness
//
// The server pings every PingInterval. A pong resets the miss counter; when
// MaxMissedPongs pings go unanswered the connection is closed with
// 1008 (policy violation). A client that cannot keep up with the send buffer
// is closed with 1001.
//
// # Client Frames
//
//	{"type":"heartbeat","conversationId":"34600111222"}
//
// records a client heartbeat on the conversation and is answered with
// {"type":"heartbeatAck",...}. Anything else gets an error frame.
package observer
