// Package server provides the operational HTTP server of the objectives
// service. It exposes Prometheus metrics, liveness, readiness and version
// endpoints; reward events do not arrive over HTTP.
package server
