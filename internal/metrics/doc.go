// Package metrics exposes Prometheus instrumentation for uploads, the
// conversion queue, playback and station assignment.
//
// All recording helpers accept a nil receiver so components can be built
// without metrics in tests and CLI commands.
package metrics
