// Package infra holds the adapters behind the core contracts: the zerolog
// logger, metrics sinks, the Sentry monitor, MQTT and NATS notifiers, the
// websocket room server and the SQLite stores. Nothing under core imports
// these packages.
package infra
