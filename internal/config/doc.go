// Package config handles configuration loading for reclama-gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from RECLAMA_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/reclama/gateway.yaml
//  3. ~/.config/reclama/gateway.yaml
//
// Files ending in .toml are decoded as TOML; everything else is YAML. Both
// formats use the same snake_case keys.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${RECLAMA_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax and must be positive:
//
//	conversations:
//	  inactivity_timeout: "30m"
//	  heartbeat_interval: "45s"
//
// # Sections
//
//	server         http_addr
//	tailscale      tsnet listener (hostname, auth_key, funnel)
//	database       archive path; empty keeps archives in memory
//	auth           jwt_secret, password_hash, token_ttl
//	logging        level, format (text or json)
//	conversations  inactivity, sweep, heartbeat, TTS cooldown and dedupe timing
//	retry          max_attempts, base_delay
//	webhook        verify_token, app_secret, objects
//	channel        provider (whatsapp or matrix) and its credentials
//	speech, assistant, drafting
//	               collaborator base_url, api_key, timeout
//	smtp           optional mailer for drafted documents
//	events         queue_size
//	observer       ping_interval, max_missed_pongs, allowed_origins
//	processor      voice_trigger, document_triggers, messages
//
// Zero values take the defaults listed in Starter.
package config
