// Package app wires configuration, the schedule registry, probes, history
// storage, alerts and the HTTP API into the driftd process.
package app
