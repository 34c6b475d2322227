package models

import "time"

// Counter holds the standard outcome counters.
type Counter struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Fail    int `json:"fail"`
	Error   int `json:"error"`
	Skip    int `json:"skip"`
}

// Add counts one outcome.
func (c *Counter) Add(o Outcome) {
	c.Total++
	switch o {
	case OutcomeSuccess:
		c.Success++
	case OutcomeFail:
		c.Fail++
	case OutcomeError:
		c.Error++
	case OutcomeSkip:
		c.Skip++
	}
}

// Merge adds every counter of other into c.
func (c *Counter) Merge(other Counter) {
	c.Total += other.Total
	c.Success += other.Success
	c.Fail += other.Fail
	c.Error += other.Error
	c.Skip += other.Skip
}

// CaseSummary is the per-case row of a report.
type CaseSummary struct {
	ID         string    `json:"id"` // Case result id
	ReportID   string    `json:"report_id"`
	CaseID     string    `json:"case_id"`
	Name       string    `json:"name"`
	Index      int       `json:"index"` // Position in the run request
	Status     string    `json:"status"`
	Result     Outcome   `json:"result"`
	Steps      Counter   `json:"steps"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// Stat groups the report counters at case and step granularity.
type Stat struct {
	TestCase Counter `json:"test_case"`
	TestStep Counter `json:"test_step"`
}

// ReportSummary is the sum of all case summaries of one run.
type ReportSummary struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Project     string         `json:"project"`
	EnvCode     string         `json:"env_code,omitempty"`
	Mode        string         `json:"mode"`
	Status      string         `json:"status"`
	Result      Outcome        `json:"result,omitempty"`
	Stat        Stat           `json:"stat"`
	StartedAt   time.Time      `json:"started_at"`
	EndedAt     time.Time      `json:"ended_at,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
	TriggeredBy string         `json:"triggered_by,omitempty"`
	Env         map[string]any `json:"env,omitempty"` // Environment metadata (server, device, services)
}
