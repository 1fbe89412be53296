// Package config loads and validates the deepbot-gateway YAML configuration.
//
// Configuration supports ${VAR_NAME} environment variable expansion anywhere
// in the file, and Go duration strings ("30s", "2m") for timing fields.
//
// Example:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	database:
//	  path: "/var/lib/deepbot/gateway.db"
//	auth:
//	  jwt_secret: "${DEEPBOT_JWT_SECRET}"
//	  identity_secret: "${DEEPBOT_IDENTITY_SECRET}"
//	  worker_key: "${DEEPBOT_WORKER_KEY}"
//	  health_key: "${DEEPBOT_HEALTH_KEY}"
//	  session_ttl: "24h"
//	worker:
//	  poll_interval: "1s"
//	  reply_timeout: "2m"
//	logging:
//	  level: "info"
//	  format: "json"
package config
