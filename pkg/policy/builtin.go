package policy

// BuiltinPolicies returns the guardrails every validation run evaluates.
// They cover constraints the schema cannot express: conventions across
// items and combinations that deploy cleanly but misbehave at run time.
func BuiltinPolicies() []Policy {
	return []Policy{
		{
			Name:        "item-naming",
			Description: "Section item names should be lower-kebab-case",
			Severity:    SeverityWarning,
			Enabled:     true,
			Rego: `package puppet.policies.naming

import rego.v1

sections := ["launches", "spoke-local-portfolios", "assertions", "code-build-runs", "lambda-invocations"]

deny contains finding if {
	some section in sections
	some name, _ in input[section]
	not regex.match(` + "`^[a-z0-9]+(-[a-z0-9]+)*$`" + `, name)
	finding := {
		"message": sprintf("%s item %q is not lower-kebab-case", [section, name]),
		"item": name,
	}
}
`,
		},
		{
			Name:        "spoke-launch-outputs",
			Description: "Spoke-execution launches cannot propagate stack outputs to the hub",
			Severity:    SeverityError,
			Enabled:     true,
			Rego: `package puppet.policies.spoke_outputs

import rego.v1

deny contains finding if {
	some name, launch in input.launches
	launch.execution == "spoke"
	count(launch.ssm_param_outputs) > 0
	finding := {
		"message": sprintf("launch %q runs in the spoke but declares ssm_param_outputs; outputs written there are invisible to the hub", [name]),
		"item": name,
	}
}
`,
		},
		{
			Name:        "account-tags",
			Description: "Accounts without tags can never match a tag-targeted deploy_to",
			Severity:    SeverityWarning,
			Enabled:     true,
			Rego: `package puppet.policies.account_tags

import rego.v1

deny contains finding if {
	some account in input.accounts
	not account.tags
	finding := {
		"message": sprintf("account %s declares no tags", [account.account_id]),
		"item": account.account_id,
	}
}
`,
		},
		{
			Name:        "termination-review",
			Description: "Terminated launches destroy provisioned products on the next deploy",
			Severity:    SeverityWarning,
			Enabled:     true,
			Rego: `package puppet.policies.terminations

import rego.v1

deny contains finding if {
	some name, launch in input.launches
	launch.status == "terminated"
	finding := {
		"message": sprintf("launch %q is marked terminated and will be destroyed across every target", [name]),
		"item": name,
	}
}
`,
		},
	}
}
