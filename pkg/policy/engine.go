package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"gopkg.in/yaml.v3"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/manifest"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/telemetry"
)

// Engine evaluates guardrail policies against an expanded manifest. It
// runs after schema and semantic validation, so policies see a manifest
// with every default applied.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   *telemetry.Logger
}

// compiledPolicy pairs a policy with its prepared query.
type compiledPolicy struct {
	policy *Policy
	query  rego.PreparedEvalQuery
}

// NewEngine creates a policy engine preloaded with the builtin guardrails.
func NewEngine(logger *telemetry.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.NewComponentLogger("policy-engine"),
	}

	for _, builtin := range BuiltinPolicies() {
		if err := e.compile(builtin); err != nil {
			return nil, fmt.Errorf("compiling builtin policy %s: %w", builtin.Name, err)
		}
	}
	return e, nil
}

// LoadPolicies compiles additional policies from files or directories.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(paths)
	if err != nil {
		return err
	}

	for _, p := range policies {
		if err := e.compile(p); err != nil {
			return fmt.Errorf("compiling policy %s: %w", p.Name, err)
		}
	}

	e.logger.WithField("count", len(policies)).Info("Policies loaded")
	return nil
}

// ListPolicies returns every registered policy, sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	return policies
}

// Evaluate runs every enabled policy against the manifest. The manifest
// is handed to the policies in its document form, so policies reference
// the same keys manifests are written with.
func (e *Engine) Evaluate(ctx context.Context, m *manifest.Manifest) (*Result, error) {
	startedAt := time.Now()

	input, err := manifestDocument(m)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true, EvaluatedAt: startedAt}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		findings, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			return nil, fmt.Errorf("evaluating policy %s: %w", name, err)
		}
		for _, v := range findings {
			if v.Severity == SeverityError {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}

	result.Duration = time.Since(startedAt)
	e.logger.WithFields(map[string]interface{}{
		"policies":   len(result.EvaluatedPolicies),
		"violations": len(result.Violations),
		"warnings":   len(result.Warnings),
	}).Debug("Policy evaluation completed")

	return result, nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// evaluatePolicy collects one policy's deny set into violations.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input interface{}) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, result := range results {
		for _, expr := range result.Expressions {
			denySet, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, entry := range denySet {
				violations = append(violations, newViolation(cp.policy, entry))
			}
		}
	}
	return violations, nil
}

// newViolation builds a Violation from one deny set entry. Entries are
// either bare message strings or objects carrying message, item and an
// optional severity override.
func newViolation(p *Policy, entry interface{}) Violation {
	v := Violation{Policy: p.Name, Severity: p.Severity}
	switch value := entry.(type) {
	case string:
		v.Message = value
	case map[string]interface{}:
		if msg, ok := value["message"].(string); ok {
			v.Message = msg
		}
		if item, ok := value["item"].(string); ok {
			v.Item = item
		}
		if sev, ok := value["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
	default:
		v.Message = fmt.Sprintf("%v", entry)
	}
	return v
}

func (e *Engine) compile(p Policy) error {
	query, err := rego.New(
		rego.Module(p.Name+".rego", p.Rego),
		rego.Query(fmt.Sprintf("data.%s.deny", packageName(p.Rego))),
	).PrepareForEval(context.Background())
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	clone := p
	e.policies[p.Name] = &compiledPolicy{policy: &clone, query: query}
	return nil
}

// packageName extracts the package declaration from Rego source.
func packageName(source string) string {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, "package "))
		}
	}
	return "puppet.policies"
}

// manifestDocument renders the manifest back into its plain document form.
func manifestDocument(m *manifest.Manifest) (interface{}, error) {
	encoded, err := m.Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding manifest for policy input: %w", err)
	}
	var doc interface{}
	if err := yaml.Unmarshal(encoded, &doc); err != nil {
		return nil, fmt.Errorf("decoding manifest for policy input: %w", err)
	}
	return doc, nil
}
