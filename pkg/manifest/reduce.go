package manifest

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/engine"
)

// Reduce produces the manifest a spoke run for accountID should execute:
// the spoke-execution launches that target the account plus their
// depends_on closure, with every deploy_to narrowed to that account.
// Launches carried into the reduced manifest run locally, so their
// execution mode is rewritten to hub.
func Reduce(m *Manifest, accountID string) (*Manifest, error) {
	acc := NewAccessor(m)
	acct, ok := acc.Account(accountID)
	if !ok {
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("account %s not declared in manifest", accountID), nil)
	}

	reduced := &Manifest{
		Schema:        m.Schema,
		Accounts:      []Account{*acct},
		Parameters:    m.Parameters,
		Configuration: m.Configuration,
	}

	type ref struct{ section, name string }
	var queue []ref
	for name, l := range m.Launches {
		if l.Execution != ExecutionSpoke {
			continue
		}
		targets, err := acc.TargetsForAccount(SectionLaunches, name, accountID)
		if err != nil {
			return nil, err
		}
		if len(targets) > 0 {
			queue = append(queue, ref{SectionLaunches, name})
		}
	}

	included := make(map[ref]bool)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if included[cur] {
			continue
		}
		included[cur] = true

		deps, err := copyItem(m, reduced, acc, cur.section, cur.name, accountID)
		if err != nil {
			return nil, err
		}
		for _, dep := range deps {
			section, ok := SectionForDependencyType(dep.Type)
			if !ok {
				return nil, engine.NewConfigurationError(
					fmt.Sprintf("%s %s depends on unknown type %q", cur.section, cur.name, dep.Type), nil).
					WithCode(engine.ErrCodeUnresolvedDependency)
			}
			queue = append(queue, ref{section, dep.Name})
		}
	}

	return reduced, nil
}

// copyItem copies one item into the reduced manifest, narrowing its deploy
// targets to accountID, and returns its dependencies for closure traversal.
func copyItem(m, reduced *Manifest, acc *Accessor, section, name, accountID string) ([]Dependency, error) {
	deployTo, err := narrowedDeployTo(acc, section, name, accountID)
	if err != nil {
		return nil, err
	}

	switch section {
	case SectionLaunches:
		src, ok := m.Launches[name]
		if !ok {
			return nil, missingItem(section, name)
		}
		l := *src
		l.Execution = ExecutionHub
		l.DeployTo = deployTo
		if reduced.Launches == nil {
			reduced.Launches = make(map[string]*Launch)
		}
		reduced.Launches[name] = &l
		return l.DependsOn, nil
	case SectionSpokeLocalPortfolios:
		src, ok := m.SpokeLocalPortfolios[name]
		if !ok {
			return nil, missingItem(section, name)
		}
		p := *src
		p.DeployTo = deployTo
		if reduced.SpokeLocalPortfolios == nil {
			reduced.SpokeLocalPortfolios = make(map[string]*SpokeLocalPortfolio)
		}
		reduced.SpokeLocalPortfolios[name] = &p
		return p.DependsOn, nil
	case SectionAssertions:
		src, ok := m.Assertions[name]
		if !ok {
			return nil, missingItem(section, name)
		}
		a := *src
		a.DeployTo = deployTo
		if reduced.Assertions == nil {
			reduced.Assertions = make(map[string]*Assertion)
		}
		reduced.Assertions[name] = &a
		return a.DependsOn, nil
	case SectionCodeBuildRuns:
		src, ok := m.CodeBuildRuns[name]
		if !ok {
			return nil, missingItem(section, name)
		}
		c := *src
		c.DeployTo = deployTo
		if reduced.CodeBuildRuns == nil {
			reduced.CodeBuildRuns = make(map[string]*CodeBuildRun)
		}
		reduced.CodeBuildRuns[name] = &c
		return c.DependsOn, nil
	case SectionLambdaInvocations:
		src, ok := m.LambdaInvocations[name]
		if !ok {
			return nil, missingItem(section, name)
		}
		li := *src
		li.DeployTo = deployTo
		if reduced.LambdaInvocations == nil {
			reduced.LambdaInvocations = make(map[string]*LambdaInvocation)
		}
		reduced.LambdaInvocations[name] = &li
		return li.DependsOn, nil
	default:
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("unknown manifest section %q", section), nil)
	}
}

// narrowedDeployTo pins an item to the regions it already resolves to in
// the given account. Items pulled in only as dependencies may not target
// the account at all; they keep the account's default region so they can
// still run locally.
func narrowedDeployTo(acc *Accessor, section, name, accountID string) (DeployTo, error) {
	targets, err := acc.TargetsForAccount(section, name, accountID)
	if err != nil {
		return DeployTo{}, err
	}
	var regions []string
	for _, t := range targets {
		regions = append(regions, t.Region)
	}
	if len(regions) == 0 {
		acct, _ := acc.Account(accountID)
		regions = []string{acct.DefaultRegion}
	}
	return DeployTo{
		Accounts: []AccountSelector{{
			AccountID: accountID,
			Regions:   RegionSelector{List: regions},
		}},
	}, nil
}

func missingItem(section, name string) error {
	return engine.NewConfigurationError(
		fmt.Sprintf("%s %s not declared", section, name), nil).
		WithCode(engine.ErrCodeUnresolvedDependency)
}

// Encode serializes the manifest back to YAML.
func (m *Manifest) Encode() ([]byte, error) {
	return yaml.Marshal(m)
}
