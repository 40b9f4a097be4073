// Package server implements the diagnostics HTTP API. It exposes session
// snapshots and control actions (restart, enable, disable), transcription
// client statistics, and Prometheus metrics.
package server
