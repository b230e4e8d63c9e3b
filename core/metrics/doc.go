// Package metrics defines interfaces for collecting dispatch metrics. Sinks
// record offer resolutions and may implement optional recorders for status
// transitions, reliability snapshots and candidate pool sizes. The factory
// helpers return a MultiSink automatically when multiple sinks are configured.
package metrics
