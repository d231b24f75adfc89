package policy

import "time"

// Severity classifies how a violation affects validation.
type Severity string

const (
	// SeverityInfo is for informational findings.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do not
	// block a run.
	SeverityWarning Severity = "warning"

	// SeverityError is for findings that fail validation.
	SeverityError Severity = "error"
)

// Policy is one guardrail with its Rego source.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. The policy's deny set holds the
	// violations; entries are either strings or objects with message,
	// item and severity fields.
	Rego string `json:"rego"`

	// Severity is the default severity for violations the policy emits.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`
}

// Violation is a single finding against the manifest.
type Violation struct {
	// Policy is the name of the policy that produced the finding.
	Policy string `json:"policy"`

	// Item names the manifest item the finding refers to, when known.
	Item string `json:"item,omitempty"`

	// Message is a human-readable description of the finding.
	Message string `json:"message"`

	// Severity is the finding's severity level.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating every enabled policy against a
// manifest.
type Result struct {
	// Allowed is false when any error-severity violation was found.
	Allowed bool `json:"allowed"`

	// Violations are the error-severity findings.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings are the findings below error severity.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of the policies that ran.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the evaluation happened.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}
