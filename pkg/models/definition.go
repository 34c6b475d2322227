package models

// StepKind selects the execution backend for a step.
type StepKind string

const (
	StepKindAPI StepKind = "api" // Plain HTTP call
	StepKindWeb StepKind = "web" // Browser automation
	StepKindApp StepKind = "app" // Mobile automation
)

// Variable is one ordered key/value pair. Order matters: later variables may reference earlier ones.
type Variable struct {
	Key   string `json:"key" yaml:"key" jsonschema:"required"`
	Value any    `json:"value" yaml:"value"`
}

// CaseDefinition is a stored test case as handed over by the definition source.
// It is never mutated by a run.
type CaseDefinition struct {
	ID        string           `json:"id" yaml:"id" jsonschema:"required"`
	Name      string           `json:"name" yaml:"name" jsonschema:"required"`
	Project   string           `json:"project,omitempty" yaml:"project,omitempty"`
	Enabled   *bool            `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Variables []Variable       `json:"variables,omitempty" yaml:"variables,omitempty"`
	SkipIf    []SkipSpec       `json:"skip_if,omitempty" yaml:"skip_if,omitempty"`
	RunTimes  int              `json:"run_times,omitempty" yaml:"run_times,omitempty"`
	Steps     []StepDefinition `json:"steps" yaml:"steps" jsonschema:"required"`
}

// IsEnabled treats a missing flag as enabled.
func (c *CaseDefinition) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// StepDefinition is one executable unit of a case. A step with QuoteCase set is a
// reference to another case whose steps are inlined before execution.
type StepDefinition struct {
	ID            string         `json:"id,omitempty" yaml:"id,omitempty"`
	Name          string         `json:"name" yaml:"name" jsonschema:"required"`
	Kind          StepKind       `json:"kind,omitempty" yaml:"kind,omitempty" jsonschema:"enum=api,enum=web,enum=app"`
	Enabled       *bool          `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	QuoteCase     string         `json:"quote_case,omitempty" yaml:"quote_case,omitempty"`
	Target        string         `json:"target,omitempty" yaml:"target,omitempty"` // API id or UI element id
	Variables     []Variable     `json:"variables,omitempty" yaml:"variables,omitempty"`
	SetupHooks    []string       `json:"setup_hooks,omitempty" yaml:"setup_hooks,omitempty"`
	TeardownHooks []string       `json:"teardown_hooks,omitempty" yaml:"teardown_hooks,omitempty"`
	SkipIf        []SkipSpec     `json:"skip_if,omitempty" yaml:"skip_if,omitempty"`
	RunTimes      int            `json:"run_times,omitempty" yaml:"run_times,omitempty"`
	Extracts      []ExtractSpec  `json:"extracts,omitempty" yaml:"extracts,omitempty"`
	Validates     []ValidateSpec `json:"validates,omitempty" yaml:"validates,omitempty"`
	Request       *HTTPRequest   `json:"request,omitempty" yaml:"request,omitempty"`
	UI            *UIAction      `json:"ui,omitempty" yaml:"ui,omitempty"`
}

// IsEnabled treats a missing flag as enabled.
func (s *StepDefinition) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// EffectiveKind infers the backend when Kind is omitted.
func (s *StepDefinition) EffectiveKind() StepKind {
	if s.Kind != "" {
		return s.Kind
	}
	if s.UI != nil {
		return StepKindWeb
	}
	return StepKindAPI
}

// HTTPRequest is the payload of an API step. All string fields may contain expressions.
type HTTPRequest struct {
	Service        string         `json:"service,omitempty" yaml:"service,omitempty"` // key into RunRequest.Services for the base URL
	Method         string         `json:"method" yaml:"method" jsonschema:"required"`
	URL            string         `json:"url" yaml:"url" jsonschema:"required"`
	Headers        map[string]any `json:"headers,omitempty" yaml:"headers,omitempty"`
	Params         map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	JSON           any            `json:"json,omitempty" yaml:"json,omitempty"`
	Data           map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
	Body           string         `json:"body,omitempty" yaml:"body,omitempty"`
	TimeoutSeconds float64        `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	AllowRedirects *bool          `json:"allow_redirects,omitempty" yaml:"allow_redirects,omitempty"`
}

// UIAction is the payload of a browser or mobile step.
type UIAction struct {
	Action      string  `json:"action" yaml:"action" jsonschema:"required"`
	Locator     Locator `json:"locator,omitempty" yaml:"locator,omitempty"`
	Text        any     `json:"text,omitempty" yaml:"text,omitempty"`
	WaitSeconds float64 `json:"wait_seconds,omitempty" yaml:"wait_seconds,omitempty"`
}

// Locator identifies a UI element or a screen point.
// For the coordinate strategy ReferenceWidth/ReferenceHeight give the resolution the
// coordinates were recorded on.
type Locator struct {
	Strategy        string `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Expression      string `json:"expression,omitempty" yaml:"expression,omitempty"`
	ReferenceWidth  int    `json:"reference_width,omitempty" yaml:"reference_width,omitempty"`
	ReferenceHeight int    `json:"reference_height,omitempty" yaml:"reference_height,omitempty"`
}

// IsZero reports whether no locator was declared.
func (l Locator) IsZero() bool { return l.Strategy == "" && l.Expression == "" }

// Extract sources.
const (
	ExtractFromResponse = "response"
	ExtractFromRegexp   = "regexp"
	ExtractFromElement  = "element"
	ExtractFromConst    = "const"
	ExtractFromFunc     = "func"
	ExtractFromVariable = "variable"
)

// ExtractSpec pulls one value out of a step result into scope.
type ExtractSpec struct {
	Key        string  `json:"key" yaml:"key" jsonschema:"required"`
	Enabled    *bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Source     string  `json:"source,omitempty" yaml:"source,omitempty"`
	Expression string  `json:"expression" yaml:"expression"`
	Action     string  `json:"action,omitempty" yaml:"action,omitempty"` // element action for UI sources
	Locator    Locator `json:"locator,omitempty" yaml:"locator,omitempty"`
}

// IsEnabled treats a missing flag as enabled.
func (e *ExtractSpec) IsEnabled() bool { return e.Enabled == nil || *e.Enabled }

// Validate kinds.
const (
	ValidateData = "data"
	ValidateUI   = "ui"
)

// ValidateSpec is one assertion evaluated after extraction.
type ValidateSpec struct {
	Kind         string  `json:"kind,omitempty" yaml:"kind,omitempty"`
	Enabled      *bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Actual       string  `json:"actual" yaml:"actual"`
	Comparator   string  `json:"comparator" yaml:"comparator" jsonschema:"required"`
	Expected     any     `json:"expected" yaml:"expected"`
	ExpectedType string  `json:"expected_type,omitempty" yaml:"expected_type,omitempty"`
	Action       string  `json:"action,omitempty" yaml:"action,omitempty"`
	Locator      Locator `json:"locator,omitempty" yaml:"locator,omitempty"`
}

// IsEnabled treats a missing flag as enabled.
func (v *ValidateSpec) IsEnabled() bool { return v.Enabled == nil || *v.Enabled }

// Skip data sources.
const (
	SkipSourceEnv      = "run_env"
	SkipSourceServer   = "run_server"
	SkipSourceDevice   = "run_device"
	SkipSourceVariable = "variable"
)

// Skip combination modes.
const (
	SkipModeAnd = "and"
	SkipModeOr  = "or"
)

// SkipSpec is a condition that prevents a step (or case) from executing when satisfied.
type SkipSpec struct {
	Enabled      *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Source       string `json:"source" yaml:"source" jsonschema:"required"`
	Key          string `json:"key,omitempty" yaml:"key,omitempty"`
	Comparator   string `json:"comparator" yaml:"comparator" jsonschema:"required"`
	Expected     any    `json:"expected" yaml:"expected"`
	ExpectedType string `json:"expected_type,omitempty" yaml:"expected_type,omitempty"`
	Mode         string `json:"mode,omitempty" yaml:"mode,omitempty"`
	Synthetic    bool   `json:"-" yaml:"-"`
}

// IsEnabled treats a missing flag as enabled.
func (s *SkipSpec) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// CaseRunResultKey is the injected variable tracking whether the case already failed.
const CaseRunResultKey = "case_run_result"

// FailPropagationSkip is the synthetic spec injected when skip-on-fail is enabled.
func FailPropagationSkip() SkipSpec {
	return SkipSpec{
		Source:     SkipSourceVariable,
		Key:        CaseRunResultKey,
		Comparator: "equals",
		Expected:   string(OutcomeFail),
		Mode:       SkipModeOr,
		Synthetic:  true,
	}
}
