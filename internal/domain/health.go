package domain

// ============================================================
// Health & operational API responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
	Error       string `json:"error,omitempty"`
}

// ContingencyList is returned by GET /v1/fiscal/contingencia and by a flush.
type ContingencyList struct {
	Total int                 `json:"total"`
	Items []ContingencyStatus `json:"items"`
}
