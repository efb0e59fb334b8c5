package types

// PoolSnapshot is the wire form of the pool's stats view.
// Field names match the /v1/stats and /health JSON contract.
type PoolSnapshot struct {
	TotalBrowsers             int     `json:"totalBrowsers"`
	ActiveBrowsers            int     `json:"activeBrowsers"`
	TotalContexts             int     `json:"totalContexts"`
	ActiveContexts            int     `json:"activeContexts"`
	AverageContextsPerBrowser float64 `json:"averageContextsPerBrowser"`
	OldestBrowserAgeMillis    int64   `json:"oldestBrowserAgeMs"`
	TotalUsageCount           int64   `json:"totalUsageCount"`
	PendingWaiters            int     `json:"pendingWaiters"`
}

// HealthResponse is the response format for the /health endpoint.
type HealthResponse struct {
	Status    string       `json:"status"`
	Version   string       `json:"version"`
	GoVersion string       `json:"goVersion"`
	Healthy   bool         `json:"healthy"`
	Issues    []string     `json:"issues,omitempty"`
	Pool      PoolSnapshot `json:"pool"`
}

// StatsResponse is the response format for the /v1/stats endpoint.
type StatsResponse struct {
	Status        string       `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptimeSeconds"`
	Pool          PoolSnapshot `json:"pool"`
}

// ErrorResponse is the consistent error payload for the HTTP surface.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Version string `json:"version"`
}
