// Package maintenance runs the periodic sweeps over live conversations.
//
// The inactivity sweep closes conversations idle for longer than the
// inactivity timeout, after giving any unprocessed inbound messages one
// last attempt. The heartbeat sweep only looks at conversations whose
// observers have sent at least one heartbeat; each missed interval bumps
// the reconnect counter and asks observers to reconnect, and once the
// counter passes the maximum the conversation is closed.
//
// Both sweeps are plain methods so they can be driven directly in tests;
// Start schedules them with robfig/cron.
package maintenance
