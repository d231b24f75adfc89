package manifest

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/engine"
)

//go:embed schema.cue
var manifestSchema string

// Loader parses and validates manifest documents. A manifest passes through
// three gates before it is returned: CUE schema unification over the raw
// YAML, struct tag validation, then defaulting.
type Loader struct {
	ctx      *cue.Context
	schema   cue.Value
	validate *validator.Validate
}

// NewLoader compiles the embedded manifest schema.
func NewLoader() (*Loader, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(manifestSchema)
	if schema.Err() != nil {
		return nil, engine.NewConfigurationError("compiling manifest schema", schema.Err())
	}
	def := schema.LookupPath(cue.ParsePath("#Manifest"))
	if def.Err() != nil {
		return nil, engine.NewConfigurationError("looking up #Manifest", def.Err())
	}
	return &Loader{
		ctx:      ctx,
		schema:   def,
		validate: validator.New(),
	}, nil
}

// Load reads and parses the manifest at path.
func (l *Loader) Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("reading manifest %s", path), err)
	}
	m, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// Parse validates the document and returns the decoded manifest with
// defaults applied.
func (l *Loader) Parse(data []byte) (*Manifest, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, engine.NewConfigurationError("decoding yaml", err)
	}
	if raw == nil {
		return nil, engine.NewConfigurationError("manifest is empty", nil)
	}

	if err := l.validateSchema(raw); err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, engine.NewConfigurationError("decoding manifest", err)
	}

	if err := l.validate.Struct(&m); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			return nil, engine.NewConfigurationError(fmt.Sprintf("invalid manifest: %s", formatValidationErrors(verrs)), nil)
		}
		return nil, engine.NewConfigurationError("invalid manifest", err)
	}

	applyDefaults(&m)

	if err := validateSemantics(&m); err != nil {
		return nil, err
	}

	return &m, nil
}

func (l *Loader) validateSchema(raw interface{}) error {
	dataVal := l.ctx.Encode(raw)
	if dataVal.Err() != nil {
		return engine.NewConfigurationError("encoding manifest", dataVal.Err())
	}
	unified := l.schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return engine.NewConfigurationError("manifest schema validation failed", err)
	}
	return nil
}

func formatValidationErrors(errs validator.ValidationErrors) string {
	msg := ""
	for i, fe := range errs {
		if i > 0 {
			msg += "; "
		}
		msg += fmt.Sprintf("field %s failed %s validation", fe.Namespace(), fe.Tag())
	}
	return msg
}

func applyDefaults(m *Manifest) {
	for _, l := range m.Launches {
		if l.Status == "" {
			l.Status = StatusProvisioned
		}
		if l.Execution == "" {
			l.Execution = ExecutionHub
		}
		defaultDependencies(l.DependsOn)
	}
	for _, p := range m.SpokeLocalPortfolios {
		if p.ProductGenerationMethod == "" {
			p.ProductGenerationMethod = GenerationCopy
		}
		defaultDependencies(p.DependsOn)
	}
	for _, a := range m.Assertions {
		defaultDependencies(a.DependsOn)
	}
	for _, c := range m.CodeBuildRuns {
		defaultDependencies(c.DependsOn)
	}
	for _, li := range m.LambdaInvocations {
		if li.InvocationType == "" {
			li.InvocationType = InvocationRequestResponse
		}
		defaultDependencies(li.DependsOn)
	}
}

func defaultDependencies(deps []Dependency) {
	for i := range deps {
		if deps[i].Type == "" {
			deps[i].Type = DependencyTypeLaunch
		}
		if deps[i].Affinity == "" {
			deps[i].Affinity = deps[i].Type
		}
	}
}

// validateSemantics checks cross-item constraints the schema cannot express.
func validateSemantics(m *Manifest) error {
	seen := make(map[string]bool, len(m.Accounts))
	for _, a := range m.Accounts {
		if seen[a.AccountID] {
			return engine.NewConfigurationError(fmt.Sprintf("account %s listed more than once", a.AccountID), nil)
		}
		seen[a.AccountID] = true
	}
	for name, l := range m.Launches {
		for _, dep := range l.DependsOn {
			if err := checkDependencyTarget(m, SectionLaunches, name, dep); err != nil {
				return err
			}
		}
	}
	for name, p := range m.SpokeLocalPortfolios {
		for _, dep := range p.DependsOn {
			if err := checkDependencyTarget(m, SectionSpokeLocalPortfolios, name, dep); err != nil {
				return err
			}
		}
	}
	for name, a := range m.Assertions {
		for _, dep := range a.DependsOn {
			if err := checkDependencyTarget(m, SectionAssertions, name, dep); err != nil {
				return err
			}
		}
	}
	for name, c := range m.CodeBuildRuns {
		for _, dep := range c.DependsOn {
			if err := checkDependencyTarget(m, SectionCodeBuildRuns, name, dep); err != nil {
				return err
			}
		}
	}
	for name, li := range m.LambdaInvocations {
		for _, dep := range li.DependsOn {
			if err := checkDependencyTarget(m, SectionLambdaInvocations, name, dep); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkDependencyTarget(m *Manifest, ownerSection, owner string, dep Dependency) error {
	section, ok := SectionForDependencyType(dep.Type)
	if !ok {
		return engine.NewConfigurationError(
			fmt.Sprintf("%s %s depends on unknown type %q", ownerSection, owner, dep.Type), nil).
			WithCode(engine.ErrCodeUnresolvedDependency)
	}
	if !m.HasItem(section, dep.Name) {
		return engine.NewConfigurationError(
			fmt.Sprintf("%s %s depends on %s %s which is not declared", ownerSection, owner, dep.Type, dep.Name), nil).
			WithCode(engine.ErrCodeUnresolvedDependency)
	}
	return nil
}
