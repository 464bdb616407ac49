// ABOUTME: Starter configuration written by the init command
// ABOUTME: Secrets are referenced through environment variables

package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Starter is a complete YAML configuration for the WhatsApp channel.
const Starter = `# reclama-gateway configuration

server:
  http_addr: "127.0.0.1:8080"

tailscale:
  enabled: false
  hostname: "reclama"
  auth_key: "${TS_AUTHKEY}"
  funnel: true

database:
  path: "${HOME}/.local/share/reclama/archive.db"

auth:
  jwt_secret: "${RECLAMA_JWT_SECRET}"
  # password_hash: generate with "reclama-gateway hash-password"
  token_ttl: "24h"

logging:
  level: "info"
  format: "text"

conversations:
  inactivity_timeout: "30m"
  sweep_interval: "5m"
  heartbeat_interval: "45s"
  max_reconnect_attempts: 5
  tts_cooldown: "30s"
  dedupe_ttl: "10m"

retry:
  max_attempts: 3
  base_delay: "1s"

webhook:
  verify_token: "${RECLAMA_VERIFY_TOKEN}"
  app_secret: "${RECLAMA_APP_SECRET}"

channel:
  provider: "whatsapp"
  whatsapp:
    access_token: "${WHATSAPP_TOKEN}"
    phone_number_id: "${WHATSAPP_PHONE_ID}"
    sends_per_second: 20

speech:
  base_url: "http://127.0.0.1:9001"
  timeout: "60s"

assistant:
  base_url: "http://127.0.0.1:9002"
  api_key: "${ASSISTANT_API_KEY}"

drafting:
  base_url: "http://127.0.0.1:9003"
  timeout: "2m"

events:
  queue_size: 256

observer:
  ping_interval: "30s"
  max_missed_pongs: 3
`

// WriteStarter writes Starter to path, creating parent directories. It
// refuses to overwrite an existing file unless force is set.
func WriteStarter(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(path, []byte(Starter), 0600)
}
