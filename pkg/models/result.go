package models

import "time"

// Outcome is the terminal classification of a step or case.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFail    Outcome = "fail"
	OutcomeError   Outcome = "error"
	OutcomeSkip    Outcome = "skip"
)

// Valid reports whether o is one of the four outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFail, OutcomeError, OutcomeSkip:
		return true
	}
	return false
}

// StepState tracks where a step is in its lifecycle.
type StepState string

const (
	StepWaiting     StepState = "waiting"
	StepBeforeHooks StepState = "before_hooks"
	StepRunning     StepState = "running"
	StepExtracting  StepState = "extracting"
	StepAfterHooks  StepState = "after_hooks"
	StepValidating  StepState = "validating"
	StepDone        StepState = "done"
)

// Progress states for case and report rows.
const (
	StatusWaiting = "waiting"
	StatusRunning = "running"
	StatusDone    = "done"
)

// Redirect is one hop of an HTTP redirect chain.
type Redirect struct {
	StatusCode int    `json:"status_code"`
	From       string `json:"from"`
	To         string `json:"to"`
}

// RequestRecord is what was actually sent for an API step.
type RequestRecord struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// ResponseRecord is what came back for an API step.
type ResponseRecord struct {
	StatusCode int               `json:"status_code"`
	URL        string            `json:"url"`
	Headers    map[string]string `json:"headers,omitempty"`
	Cookies    map[string]string `json:"cookies,omitempty"`
	Content    any               `json:"content,omitempty"`
	Text       string            `json:"text,omitempty"`
	Truncated  bool              `json:"truncated,omitempty"`
	Redirects  []Redirect        `json:"redirects,omitempty"`
	ElapsedMs  int64             `json:"elapsed_ms"`
}

// UIRecord is what was performed for a browser or mobile step.
type UIRecord struct {
	Action     string  `json:"action"`
	Locator    Locator `json:"locator,omitempty"`
	Text       any     `json:"text,omitempty"`
	Return     any     `json:"return,omitempty"`
	Screenshot string  `json:"screenshot,omitempty"` // Artifact URL
}

// ExtractRecord is one extracted value.
type ExtractRecord struct {
	Key   string `json:"key"`
	Value any    `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// ValidationRecord is one evaluated assertion.
type ValidationRecord struct {
	Comparator string `json:"comparator"`
	Actual     any    `json:"actual"`
	Expected   any    `json:"expected"`
	Passed     bool   `json:"passed"`
	Message    string `json:"message,omitempty"`
}

// StepResult is the backend-neutral envelope produced once per step execution.
type StepResult struct {
	ID           string             `json:"id"`
	ReportID     string             `json:"report_id"`
	CaseResultID string             `json:"case_result_id"`
	StepID       string             `json:"step_id,omitempty"`
	Name         string             `json:"name"`
	Kind         StepKind           `json:"kind"`
	Attempt      int                `json:"attempt"`
	Outcome      Outcome            `json:"outcome"`
	State        StepState          `json:"state"`
	StartedAt    time.Time          `json:"started_at"`
	EndedAt      time.Time          `json:"ended_at"`
	DurationMs   int64              `json:"duration_ms"`
	Request      *RequestRecord     `json:"request,omitempty"`
	Response     *ResponseRecord    `json:"response,omitempty"`
	UI           *UIRecord          `json:"ui,omitempty"`
	Extracts     []ExtractRecord    `json:"extracts,omitempty"`
	Validations  []ValidationRecord `json:"validations,omitempty"`
	Logs         []string           `json:"logs,omitempty"`
	Error        string             `json:"error,omitempty"`
}
