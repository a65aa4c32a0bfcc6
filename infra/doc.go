// Package infra holds the adapters behind the core interfaces: SQL storage,
// the broker location ingest, the WebSocket hub and the KPI exporters.
package infra
