package models

import "time"

// Execution modes for a run request.
const (
	ModeSerial   = "serial"
	ModeParallel = "parallel"
)

// Service is one backend under test: where relative step URLs are resolved and which
// service-level variables are visible to steps.
type Service struct {
	BaseURL   string         `json:"base_url" yaml:"base_url"`
	Variables map[string]any `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// RunRequest is the data received to schedule a run of one or many cases.
type RunRequest struct {
	ReportID    string             `json:"report_id,omitempty"` // Assigned by the API when empty
	Name        string             `json:"name"`
	Project     string             `json:"project"`             // Identifies the target project queue (Required)
	EnvCode     string             `json:"env_code,omitempty"`  // Environment the run targets, e.g. "test", "staging"
	ServerID    string             `json:"server_id,omitempty"` // Browser/driver server used for UI steps
	DeviceID    string             `json:"device_id,omitempty"` // Mobile device used for app steps
	CaseIDs     []string           `json:"case_ids"`            // Cases to run, in order
	Mode        string             `json:"mode,omitempty"`      // serial (default) or parallel
	SkipOnFail  bool               `json:"skip_on_fail,omitempty"`
	Variables   map[string]any     `json:"variables,omitempty"` // Environment-level variables
	Services    map[string]Service `json:"services,omitempty"`
	Priority    uint8              `json:"priority,omitempty"` // Priority for the run in the queue (0 highest)
	TriggeredBy string             `json:"triggered_by,omitempty"`
	EnqueuedAt  time.Time          `json:"enqueued_at,omitempty"`
}

// IsParallel reports whether cases should run concurrently.
func (r *RunRequest) IsParallel() bool { return r.Mode == ModeParallel }

// DefaultService returns the service used by requests that do not name one.
// It is the "default" entry, or the only entry when exactly one service is configured.
func (r *RunRequest) DefaultService() (Service, bool) {
	if svc, ok := r.Services["default"]; ok {
		return svc, true
	}
	if len(r.Services) == 1 {
		for _, svc := range r.Services {
			return svc, true
		}
	}
	return Service{}, false
}

// RunMessage is the structure published to RabbitMQ
type RunMessage struct {
	ID         string     `json:"id"`
	Project    string     `json:"project"`
	Request    RunRequest `json:"request"`
	Priority   uint8      `json:"priority"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
}
