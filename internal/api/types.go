package api

import "github.com/mattjoyce/tfsync/internal/history"

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	// LastRun is the newest run in the ledger, without steps.
	LastRun *history.Run `json:"last_run,omitempty"`
}

// RunListResponse is returned by GET /runs.
type RunListResponse struct {
	Runs  []history.Run `json:"runs"`
	Count int           `json:"count"`
}
