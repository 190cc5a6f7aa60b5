// Package metrics defines the Prometheus instruments of the gateway.
//
// # Instruments
//
//	bookshelf_tool_calls_total{tool,outcome}      counter
//	bookshelf_tool_duration_seconds{tool}         histogram
//	bookshelf_oauth_callbacks_total{outcome}      counter
//	bookshelf_recommendations_total{outcome}      counter
//	bookshelf_active_actors                       gauge
//
// A nil *Metrics is valid and records nothing, so packages can take one
// without checking whether metrics are enabled.
package metrics
