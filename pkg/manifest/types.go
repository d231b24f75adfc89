package manifest

import (
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Section names as they appear in the manifest document.
const (
	SectionLaunches             = "launches"
	SectionSpokeLocalPortfolios = "spoke-local-portfolios"
	SectionAssertions           = "assertions"
	SectionCodeBuildRuns        = "code-build-runs"
	SectionLambdaInvocations    = "lambda-invocations"
)

// Dependency types. A depends_on edge's affinity must equal its type.
const (
	DependencyTypeLaunch              = "launch"
	DependencyTypeSpokeLocalPortfolio = "spoke-local-portfolio"
	DependencyTypeAssertion           = "assertion"
	DependencyTypeCodeBuildRun        = "code-build-run"
	DependencyTypeLambdaInvocation    = "lambda-invocation"
)

// Launch status values.
const (
	StatusProvisioned = "provisioned"
	StatusTerminated  = "terminated"
)

// Execution modes.
const (
	ExecutionHub   = "hub"
	ExecutionSpoke = "spoke"
)

// Product generation methods for spoke-local portfolios.
const (
	GenerationCopy   = "copy"
	GenerationImport = "import"
)

// Lambda invocation types.
const (
	InvocationRequestResponse = "RequestResponse"
	InvocationEvent           = "Event"
)

// Manifest is the root of the puppet manifest document.
type Manifest struct {
	// Schema is the manifest schema version, e.g. "puppet-2019-04-01".
	Schema string `yaml:"schema,omitempty"`

	// Accounts declares every account the manifest may deploy to.
	Accounts []Account `yaml:"accounts" validate:"required,min=1,dive"`

	// Parameters are manifest-level parameter defaults, lowest in the
	// explicit precedence chain.
	Parameters map[string]ParameterSpec `yaml:"parameters,omitempty"`

	// Configuration holds run-wide settings.
	Configuration Configuration `yaml:"configuration,omitempty"`

	Launches             map[string]*Launch              `yaml:"launches,omitempty" validate:"dive"`
	SpokeLocalPortfolios map[string]*SpokeLocalPortfolio `yaml:"spoke-local-portfolios,omitempty" validate:"dive"`
	Assertions           map[string]*Assertion           `yaml:"assertions,omitempty" validate:"dive"`
	CodeBuildRuns        map[string]*CodeBuildRun        `yaml:"code-build-runs,omitempty" validate:"dive"`
	LambdaInvocations    map[string]*LambdaInvocation    `yaml:"lambda-invocations,omitempty" validate:"dive"`
}

// Configuration holds run-wide manifest settings.
type Configuration struct {
	// ShouldUseProductPlans selects plan-based updates over direct ones.
	ShouldUseProductPlans bool `yaml:"should_use_product_plans,omitempty"`

	// ShouldForwardEventsToEventBridge and ShouldForwardFailuresToOpsCenter
	// are passed through to spoke runs as feature flags.
	ShouldForwardEventsToEventBridge bool `yaml:"should_forward_events_to_eventbridge,omitempty"`
	ShouldForwardFailuresToOpsCenter bool `yaml:"should_forward_failures_to_opscenter,omitempty"`
}

// Account declares one deployable account.
type Account struct {
	AccountID      string   `yaml:"account_id" validate:"required,len=12,numeric"`
	Name           string   `yaml:"name,omitempty"`
	DefaultRegion  string   `yaml:"default_region" validate:"required"`
	RegionsEnabled []string `yaml:"regions_enabled,omitempty"`
	Tags           []string `yaml:"tags,omitempty"`
}

// ParameterSpec is one declared parameter value source: either a literal
// default or an SSM-backed lookup.
type ParameterSpec struct {
	Default string              `yaml:"default,omitempty"`
	SSM     *SSMParameterSource `yaml:"ssm,omitempty"`
}

// SSMParameterSource points a parameter at a stored parameter value.
type SSMParameterSource struct {
	Name string `yaml:"name" validate:"required"`

	// Region overrides the lookup region; empty means the target region.
	Region string `yaml:"region,omitempty"`
}

// SSMOutput declares that a stack output must be written to the parameter
// store after a successful hub-mode provision. ParamName supports the
// ${AWS::Region} and ${AWS::AccountId} substitution tokens.
type SSMOutput struct {
	ParamName   string `yaml:"param_name" validate:"required"`
	StackOutput string `yaml:"stack_output" validate:"required"`
	ParamType   string `yaml:"param_type,omitempty"`
}

// Dependency is one depends_on edge. Affinity defaults to Type; any other
// combination is rejected at graph construction.
type Dependency struct {
	Name     string `yaml:"name" validate:"required"`
	Type     string `yaml:"type,omitempty"`
	Affinity string `yaml:"affinity,omitempty"`
}

// RegionSelector selects regions for a deploy target. It decodes from
// either a keyword scalar ("default_region", "enabled_regions", "all") or
// an explicit list of region names.
type RegionSelector struct {
	Keyword string
	List    []string
}

// Region selector keywords.
const (
	RegionsDefault = "default_region"
	RegionsEnabled = "enabled_regions"
	RegionsAll     = "all"
)

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *RegionSelector) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var keyword string
		if err := value.Decode(&keyword); err != nil {
			return err
		}
		switch keyword {
		case RegionsDefault, RegionsEnabled, RegionsAll, "":
			r.Keyword = keyword
			return nil
		default:
			// A single region name.
			r.List = []string{keyword}
			return nil
		}
	case yaml.SequenceNode:
		return value.Decode(&r.List)
	default:
		return fmt.Errorf("regions must be a keyword or a list, got %s", value.Tag)
	}
}

// MarshalYAML implements yaml.Marshaler.
func (r RegionSelector) MarshalYAML() (interface{}, error) {
	if len(r.List) > 0 {
		return r.List, nil
	}
	if r.Keyword != "" {
		return r.Keyword, nil
	}
	return RegionsDefault, nil
}

// TagSelector deploys an item to every account carrying a tag.
type TagSelector struct {
	Tag     string         `yaml:"tag" validate:"required"`
	Regions RegionSelector `yaml:"regions,omitempty"`
}

// AccountSelector deploys an item to one explicit account.
type AccountSelector struct {
	AccountID string         `yaml:"account_id" validate:"required,len=12,numeric"`
	Regions   RegionSelector `yaml:"regions,omitempty"`
}

// DeployTo selects the (account, region) pairs an item deploys to.
type DeployTo struct {
	Tags     []TagSelector     `yaml:"tags,omitempty" validate:"dive"`
	Accounts []AccountSelector `yaml:"accounts,omitempty" validate:"dive"`
}

// Launch declares one desired deployment of a product version.
type Launch struct {
	Status    string `yaml:"status,omitempty" validate:"omitempty,oneof=provisioned terminated"`
	Execution string `yaml:"execution,omitempty" validate:"omitempty,oneof=hub spoke"`

	Portfolio string `yaml:"portfolio" validate:"required"`
	Product   string `yaml:"product" validate:"required"`
	Version   string `yaml:"version" validate:"required"`

	Parameters      map[string]ParameterSpec `yaml:"parameters,omitempty"`
	SSMParamOutputs []SSMOutput              `yaml:"ssm_param_outputs,omitempty" validate:"dive"`
	DependsOn       []Dependency             `yaml:"depends_on,omitempty" validate:"dive"`
	DeployTo        DeployTo                 `yaml:"deploy_to"`

	RetryCount        int `yaml:"retry_count,omitempty" validate:"gte=0"`
	WorkerTimeout     int `yaml:"worker_timeout,omitempty" validate:"gte=0"`
	RequestedPriority int `yaml:"requested_priority,omitempty"`
}

// WorkerTimeoutDuration returns the worker timeout as a duration.
func (l *Launch) WorkerTimeoutDuration() time.Duration {
	return time.Duration(l.WorkerTimeout) * time.Second
}

// SpokeLocalPortfolio declares a hub portfolio to materialize inside spoke
// accounts: share, accept, copy or associate products, then wire
// principals.
type SpokeLocalPortfolio struct {
	Portfolio string `yaml:"portfolio" validate:"required"`

	// Sharing mode: "copy" duplicates products into a local portfolio,
	// "import" associates the shared products directly.
	ProductGenerationMethod string `yaml:"product_generation_method,omitempty" validate:"omitempty,oneof=copy import"`

	AssociatedPrincipals []string     `yaml:"associations,omitempty"`
	DependsOn            []Dependency `yaml:"depends_on,omitempty" validate:"dive"`
	DeployTo             DeployTo     `yaml:"deploy_to"`

	RetryCount        int `yaml:"retry_count,omitempty" validate:"gte=0"`
	RequestedPriority int `yaml:"requested_priority,omitempty"`
}

// AssertionDocument is one side of an assertion: a value source plus its
// configuration.
type AssertionDocument struct {
	Source string                 `yaml:"source" validate:"required"`
	Config map[string]interface{} `yaml:"config,omitempty"`
}

// Assertion declares an expected-vs-actual check evaluated per target.
type Assertion struct {
	Expected AssertionDocument `yaml:"expected" validate:"required"`
	Actual   AssertionDocument `yaml:"actual" validate:"required"`

	DependsOn []Dependency `yaml:"depends_on,omitempty" validate:"dive"`
	DeployTo  DeployTo     `yaml:"deploy_to"`

	RetryCount        int `yaml:"retry_count,omitempty" validate:"gte=0"`
	RequestedPriority int `yaml:"requested_priority,omitempty"`
}

// CodeBuildRun declares a build project to run per target.
type CodeBuildRun struct {
	ProjectName string                   `yaml:"project_name" validate:"required"`
	Parameters  map[string]ParameterSpec `yaml:"parameters,omitempty"`

	DependsOn []Dependency `yaml:"depends_on,omitempty" validate:"dive"`
	DeployTo  DeployTo     `yaml:"deploy_to"`

	RetryCount        int `yaml:"retry_count,omitempty" validate:"gte=0"`
	RequestedPriority int `yaml:"requested_priority,omitempty"`
}

// LambdaInvocation declares a function to invoke per target.
type LambdaInvocation struct {
	FunctionName   string                   `yaml:"function_name" validate:"required"`
	Qualifier      string                   `yaml:"qualifier,omitempty"`
	InvocationType string                   `yaml:"invocation_type,omitempty" validate:"omitempty,oneof=RequestResponse Event"`
	Parameters     map[string]ParameterSpec `yaml:"parameters,omitempty"`

	DependsOn []Dependency `yaml:"depends_on,omitempty" validate:"dive"`
	DeployTo  DeployTo     `yaml:"deploy_to"`

	RetryCount        int `yaml:"retry_count,omitempty" validate:"gte=0"`
	RequestedPriority int `yaml:"requested_priority,omitempty"`
}

// SectionNames returns the manifest's section names in canonical order.
func SectionNames() []string {
	return []string{
		SectionLaunches,
		SectionSpokeLocalPortfolios,
		SectionAssertions,
		SectionCodeBuildRuns,
		SectionLambdaInvocations,
	}
}

// SectionForDependencyType maps a depends_on type to its section.
func SectionForDependencyType(depType string) (string, bool) {
	switch depType {
	case DependencyTypeLaunch:
		return SectionLaunches, true
	case DependencyTypeSpokeLocalPortfolio:
		return SectionSpokeLocalPortfolios, true
	case DependencyTypeAssertion:
		return SectionAssertions, true
	case DependencyTypeCodeBuildRun:
		return SectionCodeBuildRuns, true
	case DependencyTypeLambdaInvocation:
		return SectionLambdaInvocations, true
	default:
		return "", false
	}
}

// HasItem reports whether the named item exists in the given section.
func (m *Manifest) HasItem(section, name string) bool {
	switch section {
	case SectionLaunches:
		_, ok := m.Launches[name]
		return ok
	case SectionSpokeLocalPortfolios:
		_, ok := m.SpokeLocalPortfolios[name]
		return ok
	case SectionAssertions:
		_, ok := m.Assertions[name]
		return ok
	case SectionCodeBuildRuns:
		_, ok := m.CodeBuildRuns[name]
		return ok
	case SectionLambdaInvocations:
		_, ok := m.LambdaInvocations[name]
		return ok
	default:
		return false
	}
}

// ItemNames returns the sorted item names of a section.
func (m *Manifest) ItemNames(section string) []string {
	var names []string
	switch section {
	case SectionLaunches:
		for name := range m.Launches {
			names = append(names, name)
		}
	case SectionSpokeLocalPortfolios:
		for name := range m.SpokeLocalPortfolios {
			names = append(names, name)
		}
	case SectionAssertions:
		for name := range m.Assertions {
			names = append(names, name)
		}
	case SectionCodeBuildRuns:
		for name := range m.CodeBuildRuns {
			names = append(names, name)
		}
	case SectionLambdaInvocations:
		for name := range m.LambdaInvocations {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
