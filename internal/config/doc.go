// Package config handles configuration loading for bookshelf-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion. Every required value is checked by Load so a misconfigured
// process exits at startup instead of failing on its first request.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from BOOKSHELF_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/bookshelf/gateway.yaml
//  3. ~/.config/bookshelf/gateway.yaml
//
// Files with a .toml extension are decoded as TOML.
//
// # Environment Variable Expansion
//
// Secrets are normally injected from the environment:
//
//	github:
//	  client_id: "${GITHUB_CLIENT_ID}"
//	  client_secret: "${GITHUB_CLIENT_SECRET}"
//	auth:
//	  cookie_secret: "${BOOKSHELF_COOKIE_SECRET}"
//
// Unset variables expand to the empty string and then fail validation.
//
// # Configuration Sections
//
// Server:
//
//	server:
//	  http_addr: "0.0.0.0:8787"
//	  base_url: "https://books.example.com"
//
// Lifetimes (Go duration syntax):
//
//	auth:
//	  consent_ttl: "720h"
//	  state_ttl: "10m"
//	  code_ttl: "10m"
//	  access_token_ttl: "1h"
//	  refresh_token_ttl: "720h"
//
// Storage:
//
//	database:
//	  path: "/var/lib/bookshelf/actors.db"
//	kv:
//	  driver: "badger"            # badger, redis
//	  path: "/var/lib/bookshelf/kv"
//	  redis_addr: "localhost:6379"
//
// Recommender (any OpenAI-compatible endpoint):
//
//	recommender:
//	  base_url: "https://api.openai.com/v1"
//	  api_key: "${OPENAI_API_KEY}"
//	  model: "gpt-4o-mini"
//	  max_tokens: 512
//
// Logging and metrics:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//	metrics:
//	  enabled: true
//	  path: "/metrics"
package config
