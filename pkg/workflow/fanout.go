package workflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/engine"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/manifest"
)

// GroupOutput is the output of a grouping task. Groups do no remote work;
// their output records how many tasks completed beneath them.
type GroupOutput struct {
	Name  string `json:"name"`
	Tasks int    `json:"tasks"`
}

// groupTask aggregates its children so coarser-grained edges have a single
// task to bind to. Every section item expands into one top-level group, a
// per-account tier, a per-region tier and a per-account-and-region tier
// above the concrete work tasks.
type groupTask struct {
	deployment *Deployment

	kind     string
	params   []string
	children []engine.Task
}

func (t *groupTask) Identity() engine.Identity {
	id := engine.NewIdentity(t.kind, t.params...)
	id.DryRun = t.deployment.Settings.DryRun
	id.Invalidator = t.deployment.Settings.CacheInvalidator
	return id
}

func (t *groupTask) Requires() []engine.Task { return t.children }

func (t *groupTask) Run(ctx context.Context, rt *engine.Runtime) (*engine.Result, error) {
	return engine.Output(GroupOutput{Name: t.params[1], Tasks: len(t.children)})
}

// taskKindForSection maps a section to the base kind of its group tiers.
// The base kinds match the manifest's dependency type names so a
// depends_on edge reads the same as the group it binds to.
var taskKindForSection = map[string]string{
	manifest.SectionLaunches:             manifest.DependencyTypeLaunch,
	manifest.SectionSpokeLocalPortfolios: manifest.DependencyTypeSpokeLocalPortfolio,
	manifest.SectionAssertions:           manifest.DependencyTypeAssertion,
	manifest.SectionCodeBuildRuns:        manifest.DependencyTypeCodeBuildRun,
	manifest.SectionLambdaInvocations:    manifest.DependencyTypeLambdaInvocation,
}

// graphBuilder expands manifest items into task graphs, memoizing one group
// per item so shared dependency targets are built exactly once.
type graphBuilder struct {
	d *Deployment

	groups   map[string]engine.Task
	building map[string]bool
}

// BuildTasks expands the whole manifest into scheduler roots. Every item of
// every section becomes one top-level group task; dependency affinity and
// target resolution failures are raised here, before anything executes.
// Dry runs only expand the launches section since the other sections have
// no diffable live state.
func BuildTasks(d *Deployment) ([]engine.Task, error) {
	b := &graphBuilder{
		d:        d,
		groups:   make(map[string]engine.Task),
		building: make(map[string]bool),
	}

	m := d.Manifest.Manifest()
	var roots []engine.Task
	for _, section := range manifest.SectionNames() {
		if d.Settings.DryRun && section != manifest.SectionLaunches {
			continue
		}
		for _, name := range m.ItemNames(section) {
			group, err := b.itemGroup(section, name)
			if err != nil {
				return nil, err
			}
			if group != nil {
				roots = append(roots, group)
			}
		}
	}
	return roots, nil
}

// itemGroup returns the memoized top-level group for one section item,
// building it and its dependency closure on first use.
func (b *graphBuilder) itemGroup(section, name string) (engine.Task, error) {
	key := section + "/" + name
	if group, ok := b.groups[key]; ok {
		return group, nil
	}
	if b.building[key] {
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("dependency cycle through %s", key), nil,
		).WithCode(engine.ErrCodeCycle)
	}
	b.building[key] = true
	defer delete(b.building, key)

	deps, err := b.dependencies(section, name)
	if err != nil {
		return nil, err
	}

	targets, err := b.targetsFor(section, name)
	if err != nil {
		return nil, err
	}

	items, err := b.itemTasks(section, name, targets, deps)
	if err != nil {
		return nil, err
	}

	group := b.assemble(taskKindForSection[section], name, items)
	b.groups[key] = group
	return group, nil
}

func (b *graphBuilder) targetsFor(section, name string) ([]manifest.Target, error) {
	if single := b.d.Settings.SingleAccountID; single != "" {
		return b.d.Manifest.TargetsForAccount(section, name, single)
	}
	return b.d.Manifest.TargetsFor(section, name)
}

// dependencies resolves an item's depends_on edges into the top-level
// groups of the targets. An edge is only valid when its affinity equals
// its type; anything else is rejected before the graph is scheduled.
func (b *graphBuilder) dependencies(section, name string) ([]engine.Task, error) {
	declared, err := b.dependsOn(section, name)
	if err != nil {
		return nil, err
	}

	tasks := make([]engine.Task, 0, len(declared))
	for _, dep := range declared {
		if dep.Affinity != dep.Type {
			return nil, engine.NewConfigurationError(
				fmt.Sprintf("%s/%s depends on %s with affinity %q, only %q is supported",
					section, name, dep.Name, dep.Affinity, dep.Type), nil,
			).WithCode(engine.ErrCodeAffinityMismatch)
		}
		targetSection, ok := manifest.SectionForDependencyType(dep.Type)
		if !ok {
			return nil, engine.NewConfigurationError(
				fmt.Sprintf("%s/%s depends on unknown type %q", section, name, dep.Type), nil,
			).WithCode(engine.ErrCodeUnresolvedDependency)
		}
		if !b.d.Manifest.Manifest().HasItem(targetSection, dep.Name) {
			return nil, engine.NewConfigurationError(
				fmt.Sprintf("%s/%s depends on undeclared %s %q",
					section, name, dep.Type, dep.Name), nil,
			).WithCode(engine.ErrCodeUnresolvedDependency)
		}
		group, err := b.itemGroup(targetSection, dep.Name)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, group)
	}
	return tasks, nil
}

func (b *graphBuilder) dependsOn(section, name string) ([]manifest.Dependency, error) {
	switch section {
	case manifest.SectionLaunches:
		launch, ok := b.d.Manifest.Launch(name)
		if !ok {
			return nil, b.missingItem(section, name)
		}
		return launch.DependsOn, nil
	case manifest.SectionSpokeLocalPortfolios:
		portfolio, ok := b.d.Manifest.SpokeLocalPortfolio(name)
		if !ok {
			return nil, b.missingItem(section, name)
		}
		return portfolio.DependsOn, nil
	case manifest.SectionAssertions:
		assertion, ok := b.d.Manifest.Assertion(name)
		if !ok {
			return nil, b.missingItem(section, name)
		}
		return assertion.DependsOn, nil
	case manifest.SectionCodeBuildRuns:
		build, ok := b.d.Manifest.CodeBuildRun(name)
		if !ok {
			return nil, b.missingItem(section, name)
		}
		return build.DependsOn, nil
	case manifest.SectionLambdaInvocations:
		invocation, ok := b.d.Manifest.LambdaInvocation(name)
		if !ok {
			return nil, b.missingItem(section, name)
		}
		return invocation.DependsOn, nil
	default:
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("unknown manifest section %q", section), nil)
	}
}

func (b *graphBuilder) missingItem(section, name string) error {
	return engine.NewConfigurationError(
		fmt.Sprintf("%s has no item named %q", section, name), nil,
	).WithCode(engine.ErrCodeUnresolvedDependency)
}

// itemTasks builds the concrete per-target work tasks for one item. Spoke
// launches collapse to one dispatch task per distinct account since the
// spoke side fans out over its own regions.
func (b *graphBuilder) itemTasks(section, name string, targets []manifest.Target, deps []engine.Task) (map[manifest.Target]engine.Task, error) {
	items := make(map[manifest.Target]engine.Task, len(targets))

	switch section {
	case manifest.SectionLaunches:
		launch, _ := b.d.Manifest.Launch(name)
		switch launch.Status {
		case manifest.StatusProvisioned:
			if launch.Execution == manifest.ExecutionSpoke && !b.d.Settings.DryRun {
				for _, target := range targets {
					key := manifest.Target{AccountID: target.AccountID}
					if _, ok := items[key]; ok {
						continue
					}
					items[key] = &SpokeExecutionTask{
						Deployment:   b.d,
						LaunchName:   name,
						Launch:       launch,
						AccountID:    target.AccountID,
						Dependencies: deps,
					}
				}
				return items, nil
			}
			for _, target := range targets {
				items[target] = &ProvisionProductTask{
					Deployment:   b.d,
					LaunchName:   name,
					Launch:       launch,
					AccountID:    target.AccountID,
					Region:       target.Region,
					DryRun:       b.d.Settings.DryRun,
					Dependencies: deps,
				}
			}
		case manifest.StatusTerminated:
			for _, target := range targets {
				items[target] = &TerminateProductTask{
					Deployment:   b.d,
					LaunchName:   name,
					Launch:       launch,
					AccountID:    target.AccountID,
					Region:       target.Region,
					DryRun:       b.d.Settings.DryRun,
					Dependencies: deps,
				}
			}
		default:
			return nil, engine.NewConfigurationError(
				fmt.Sprintf("launch %s has unknown status %q", name, launch.Status), nil,
			).WithCode(engine.ErrCodeUnknownStatus)
		}

	case manifest.SectionSpokeLocalPortfolios:
		portfolio, _ := b.d.Manifest.SpokeLocalPortfolio(name)
		for _, target := range targets {
			items[target] = &DeploySpokeLocalPortfolioTask{
				Deployment:    b.d,
				PortfolioName: name,
				Portfolio:     portfolio,
				AccountID:     target.AccountID,
				Region:        target.Region,
				Dependencies:  deps,
			}
		}

	case manifest.SectionAssertions:
		assertion, _ := b.d.Manifest.Assertion(name)
		for _, target := range targets {
			items[target] = &RunAssertionTask{
				Deployment:    b.d,
				AssertionName: name,
				Assertion:     assertion,
				AccountID:     target.AccountID,
				Region:        target.Region,
				Dependencies:  deps,
			}
		}

	case manifest.SectionCodeBuildRuns:
		build, _ := b.d.Manifest.CodeBuildRun(name)
		for _, target := range targets {
			items[target] = &RunCodeBuildTask{
				Deployment:   b.d,
				RunName:      name,
				Build:        build,
				AccountID:    target.AccountID,
				Region:       target.Region,
				Dependencies: deps,
			}
		}

	case manifest.SectionLambdaInvocations:
		invocation, _ := b.d.Manifest.LambdaInvocation(name)
		for _, target := range targets {
			items[target] = &InvokeLambdaTask{
				Deployment:     b.d,
				InvocationName: name,
				Invocation:     invocation,
				AccountID:      target.AccountID,
				Region:         target.Region,
				Dependencies:   deps,
			}
		}
	}

	return items, nil
}

// assemble wires the tier groups above the concrete tasks. The graph
// deduplicates by identity, so the same account-and-region group appearing
// under both the account tier and the region tier costs nothing.
func (b *graphBuilder) assemble(base, name string, items map[manifest.Target]engine.Task) engine.Task {
	targets := make([]manifest.Target, 0, len(items))
	for target := range items {
		targets = append(targets, target)
	}
	sort.Slice(targets, func(i, j int) bool {
		if targets[i].AccountID != targets[j].AccountID {
			return targets[i].AccountID < targets[j].AccountID
		}
		return targets[i].Region < targets[j].Region
	})

	byAccount := make(map[string][]engine.Task)
	byRegion := make(map[string][]engine.Task)
	for _, target := range targets {
		task := items[target]
		if target.Region != "" {
			task = &groupTask{
				deployment: b.d,
				kind:       base + "-for-account-and-region",
				params: []string{
					"name", name,
					"account", target.AccountID,
					"region", target.Region,
				},
				children: []engine.Task{items[target]},
			}
		}
		byAccount[target.AccountID] = append(byAccount[target.AccountID], task)
		if target.Region != "" {
			byRegion[target.Region] = append(byRegion[target.Region], task)
		}
	}

	var children []engine.Task
	for _, account := range sortedKeys(byAccount) {
		children = append(children, &groupTask{
			deployment: b.d,
			kind:       base + "-for-account",
			params:     []string{"name", name, "account", account},
			children:   byAccount[account],
		})
	}
	for _, region := range sortedKeys(byRegion) {
		children = append(children, &groupTask{
			deployment: b.d,
			kind:       base + "-for-region",
			params:     []string{"name", name, "region", region},
			children:   byRegion[region],
		})
	}

	return &groupTask{
		deployment: b.d,
		kind:       base,
		params:     []string{"name", name},
		children:   children,
	}
}

func sortedKeys(m map[string][]engine.Task) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
