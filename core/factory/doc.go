// Package factory provides a small generic registry used to instantiate
// pluggable modules (metrics sinks, notifiers) from configuration. A module is
// a type string plus a map of raw settings that its factory decodes with
// Decode.
package factory
