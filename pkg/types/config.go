package types

// Config is the full configuration surface of the session core. All
// duration-like fields are in milliseconds to keep the JSON surface flat.
type Config struct {
	Schema string `json:"$schema,omitempty"`

	// Session timing
	ToolDeadlineMS            int `json:"tool_deadline_ms,omitempty"`
	InactivityMS              int `json:"inactivity_ms,omitempty"`
	TickMS                    int `json:"tick_ms,omitempty"`
	TransportReconnectGraceMS int `json:"transport_reconnect_grace_ms,omitempty"`

	// Executor back-pressure
	ExecutorConcurrencyCap int `json:"executor_concurrency_cap,omitempty"`
	ExecutorQueueCap       int `json:"executor_queue_cap,omitempty"`

	// Session state retention
	HistoryRetained    int   `json:"history_retained,omitempty"`
	PersistenceEnabled *bool `json:"persistence_enabled,omitempty"`

	// Diagnosis classification
	DiagnosisConfidenceThreshold *float64 `json:"diagnosis_confidence_threshold,omitempty"`

	// External collaborators
	SyllabusPath string          `json:"syllabus_path,omitempty"`
	Provider     *ProviderConfig `json:"provider,omitempty"`
}

// ProviderConfig configures the LLM tool provider.
type ProviderConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
}

// Defaults for the configuration surface.
const (
	DefaultToolDeadlineMS            = 30_000
	DefaultInactivityMS              = 30 * 60 * 1000
	DefaultTickMS                    = 30_000
	DefaultTransportReconnectGraceMS = 60_000
	DefaultExecutorConcurrencyCap    = 32
	DefaultExecutorQueueCap          = 128
	DefaultHistoryRetained           = 200
	DefaultDiagnosisThreshold        = 0.5
)

// WithDefaults fills unset fields with their defaults and returns c.
func (c *Config) WithDefaults() *Config {
	if c.ToolDeadlineMS <= 0 {
		c.ToolDeadlineMS = DefaultToolDeadlineMS
	}
	if c.InactivityMS <= 0 {
		c.InactivityMS = DefaultInactivityMS
	}
	if c.TickMS <= 0 {
		c.TickMS = DefaultTickMS
	}
	if c.TransportReconnectGraceMS <= 0 {
		c.TransportReconnectGraceMS = DefaultTransportReconnectGraceMS
	}
	if c.ExecutorConcurrencyCap <= 0 {
		c.ExecutorConcurrencyCap = DefaultExecutorConcurrencyCap
	}
	if c.ExecutorQueueCap <= 0 {
		c.ExecutorQueueCap = DefaultExecutorQueueCap
	}
	if c.HistoryRetained <= 0 {
		c.HistoryRetained = DefaultHistoryRetained
	}
	if c.PersistenceEnabled == nil {
		enabled := true
		c.PersistenceEnabled = &enabled
	}
	if c.DiagnosisConfidenceThreshold == nil {
		threshold := DefaultDiagnosisThreshold
		c.DiagnosisConfidenceThreshold = &threshold
	}
	return c
}

// Persistence reports whether persistence is enabled.
func (c *Config) Persistence() bool {
	return c.PersistenceEnabled != nil && *c.PersistenceEnabled
}

// DiagnosisThreshold returns the Known/Unknown classification threshold.
func (c *Config) DiagnosisThreshold() float64 {
	if c.DiagnosisConfidenceThreshold == nil {
		return DefaultDiagnosisThreshold
	}
	return *c.DiagnosisConfidenceThreshold
}
