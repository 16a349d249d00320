package models

// Health represents the health status of the service.
type Health struct {
	Status  HealthStatus   `json:"status"`
	Time    Timestamp      `json:"time"`
	Details map[string]any `json:"details,omitempty"`
}

// SystemStatus represents the engine and provider status.
type SystemStatus struct {
	Status    HealthStatus     `json:"status"`
	Time      Timestamp        `json:"time"`
	Engine    EngineStatus     `json:"engine"`
	Providers []ProviderStatus `json:"providers"`
}

// EngineStatus summarizes the schedule engine state.
type EngineStatus struct {
	State      string     `json:"state"`
	Date       string     `json:"date,omitempty"`
	Place      string     `json:"place,omitempty"`
	Generation uint64     `json:"generation"`
	UpdatedAt  *Timestamp `json:"updatedAt,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// ProviderStatus represents the status of an external provider.
type ProviderStatus struct {
	Provider            string       `json:"provider"`
	Status              HealthStatus `json:"status"`
	CircuitState        string       `json:"circuitState"`
	ConsecutiveFailures uint32       `json:"consecutiveFailures"`
	LastSuccessAt       *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *Timestamp   `json:"lastFailureAt,omitempty"`
	Message             *string      `json:"message,omitempty"`
}
