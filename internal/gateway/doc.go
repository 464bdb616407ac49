// Package gateway orchestrates the reclama-gateway server components.
//
// # Overview
//
// New builds every component from a config.Config: the archive store, the
// event bus and broadcaster, the conversation service, the message
// processor with its collaborators, the webhook ingestor, the maintenance
// scheduler and the observer hub. Options replace collaborators, which is
// how tests run the real pipeline against fakes.
//
// # Lifecycle
//
// Run opens the listener (plain TCP, or a tsnet node when tailscale is
// enabled) and calls Serve. Serve starts the sweeps, the event bus, the HTTP
// server and, for the Matrix channel, the sync loop, all under one errgroup.
// Cancelling the context or any component failing triggers Shutdown; the
// event bus is drained last so closure events still reach observers.
//
// # HTTP Routes
//
//	GET  /health                              liveness
//	GET  /health/ready                        event bus running
//	GET  /webhook                             provider verification handshake
//	POST /webhook                             inbound change sets
//	POST /api/login                           password for token (when configured)
//	GET  /api/conversations                   live conversations, most recent first
//	GET  /api/conversations/{id}              full snapshot
//	POST /api/conversations/{id}/close        archive and remove
//	POST /api/conversations/{id}/reset        chat reset
//	POST /api/conversations/{id}/heartbeat    client liveness ping
//	GET  /api/conversations/{id}/document     drafted claim as HTML
//	GET  /api/archive                         archived conversations
//	GET  /api/archive/{archiveId}             one archive
//	GET  /api/stats                           counters
//	GET  /ws                                  observer WebSocket
//
// Everything under /api/ and /ws requires a bearer token when
// auth.jwt_secret is set.
package gateway
