// Package dedupe remembers recently ingested channel message ids so that a
// webhook delivered twice is only processed once. Keys are scoped per
// conversation and expire after a configurable window.
package dedupe
