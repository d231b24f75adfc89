package manifest

import (
	"fmt"
	"sort"
	"sync"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/engine"
)

// Target is one (account, region) pair an item deploys to.
type Target struct {
	AccountID string
	Region    string
}

// Accessor answers queries against a loaded manifest. Target resolution is
// memoized per (section, item) and always returns the same sorted slice for
// the same document.
type Accessor struct {
	m *Manifest

	mu       sync.Mutex
	accounts map[string]*Account
	targets  map[string][]Target
}

// NewAccessor wraps a validated manifest.
func NewAccessor(m *Manifest) *Accessor {
	accounts := make(map[string]*Account, len(m.Accounts))
	for i := range m.Accounts {
		accounts[m.Accounts[i].AccountID] = &m.Accounts[i]
	}
	return &Accessor{
		m:        m,
		accounts: accounts,
		targets:  make(map[string][]Target),
	}
}

// Manifest returns the underlying document.
func (a *Accessor) Manifest() *Manifest { return a.m }

// Account looks up a declared account by ID.
func (a *Accessor) Account(accountID string) (*Account, bool) {
	acct, ok := a.accounts[accountID]
	return acct, ok
}

// AccountIDs returns the declared account IDs, sorted.
func (a *Accessor) AccountIDs() []string {
	ids := make([]string, 0, len(a.accounts))
	for id := range a.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Launch looks up a launch by name.
func (a *Accessor) Launch(name string) (*Launch, bool) {
	l, ok := a.m.Launches[name]
	return l, ok
}

// SpokeLocalPortfolio looks up a spoke-local portfolio by name.
func (a *Accessor) SpokeLocalPortfolio(name string) (*SpokeLocalPortfolio, bool) {
	p, ok := a.m.SpokeLocalPortfolios[name]
	return p, ok
}

// Assertion looks up an assertion by name.
func (a *Accessor) Assertion(name string) (*Assertion, bool) {
	item, ok := a.m.Assertions[name]
	return item, ok
}

// CodeBuildRun looks up a code build run by name.
func (a *Accessor) CodeBuildRun(name string) (*CodeBuildRun, bool) {
	item, ok := a.m.CodeBuildRuns[name]
	return item, ok
}

// LambdaInvocation looks up a lambda invocation by name.
func (a *Accessor) LambdaInvocation(name string) (*LambdaInvocation, bool) {
	item, ok := a.m.LambdaInvocations[name]
	return item, ok
}

// TargetsFor resolves an item's deploy_to block into concrete
// (account, region) pairs, deduplicated and sorted.
func (a *Accessor) TargetsFor(section, item string) ([]Target, error) {
	key := section + "/" + item

	a.mu.Lock()
	if cached, ok := a.targets[key]; ok {
		a.mu.Unlock()
		return cached, nil
	}
	a.mu.Unlock()

	deployTo, err := a.deployToFor(section, item)
	if err != nil {
		return nil, err
	}

	resolved, err := a.resolveDeployTo(section, item, deployTo)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.targets[key] = resolved
	a.mu.Unlock()
	return resolved, nil
}

// TargetsForAccount filters an item's targets to one account.
func (a *Accessor) TargetsForAccount(section, item, accountID string) ([]Target, error) {
	all, err := a.TargetsFor(section, item)
	if err != nil {
		return nil, err
	}
	var out []Target
	for _, t := range all {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (a *Accessor) deployToFor(section, item string) (DeployTo, error) {
	switch section {
	case SectionLaunches:
		if l, ok := a.m.Launches[item]; ok {
			return l.DeployTo, nil
		}
	case SectionSpokeLocalPortfolios:
		if p, ok := a.m.SpokeLocalPortfolios[item]; ok {
			return p.DeployTo, nil
		}
	case SectionAssertions:
		if it, ok := a.m.Assertions[item]; ok {
			return it.DeployTo, nil
		}
	case SectionCodeBuildRuns:
		if it, ok := a.m.CodeBuildRuns[item]; ok {
			return it.DeployTo, nil
		}
	case SectionLambdaInvocations:
		if it, ok := a.m.LambdaInvocations[item]; ok {
			return it.DeployTo, nil
		}
	default:
		return DeployTo{}, engine.NewConfigurationError(
			fmt.Sprintf("unknown manifest section %q", section), nil)
	}
	return DeployTo{}, engine.NewConfigurationError(
		fmt.Sprintf("%s %s not declared", section, item), nil)
}

func (a *Accessor) resolveDeployTo(section, item string, deployTo DeployTo) ([]Target, error) {
	seen := make(map[Target]bool)
	var out []Target

	add := func(acct *Account, sel RegionSelector) error {
		regions, err := regionsFor(acct, sel)
		if err != nil {
			return engine.NewConfigurationError(
				fmt.Sprintf("%s %s targeting account %s", section, item, acct.AccountID), err)
		}
		for _, region := range regions {
			t := Target{AccountID: acct.AccountID, Region: region}
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
		return nil
	}

	for _, ts := range deployTo.Tags {
		for i := range a.m.Accounts {
			acct := &a.m.Accounts[i]
			if hasTag(acct, ts.Tag) {
				if err := add(acct, ts.Regions); err != nil {
					return nil, err
				}
			}
		}
	}
	for _, as := range deployTo.Accounts {
		acct, ok := a.accounts[as.AccountID]
		if !ok {
			return nil, engine.NewConfigurationError(
				fmt.Sprintf("%s %s deploys to account %s which is not declared",
					section, item, as.AccountID), nil)
		}
		if err := add(acct, as.Regions); err != nil {
			return nil, err
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountID != out[j].AccountID {
			return out[i].AccountID < out[j].AccountID
		}
		return out[i].Region < out[j].Region
	})
	return out, nil
}

// regionsFor expands a region selector for one account. An empty selector
// means the account's default region.
func regionsFor(acct *Account, sel RegionSelector) ([]string, error) {
	if len(sel.List) > 0 {
		return sel.List, nil
	}
	switch sel.Keyword {
	case "", RegionsDefault:
		return []string{acct.DefaultRegion}, nil
	case RegionsEnabled:
		if len(acct.RegionsEnabled) == 0 {
			return nil, fmt.Errorf("account %s has no regions_enabled", acct.AccountID)
		}
		return acct.RegionsEnabled, nil
	case RegionsAll:
		regions := make([]string, 0, len(acct.RegionsEnabled)+1)
		regions = append(regions, acct.DefaultRegion)
		for _, r := range acct.RegionsEnabled {
			if r != acct.DefaultRegion {
				regions = append(regions, r)
			}
		}
		return regions, nil
	default:
		return nil, fmt.Errorf("unknown region selector %q", sel.Keyword)
	}
}

func hasTag(acct *Account, tag string) bool {
	for _, t := range acct.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
