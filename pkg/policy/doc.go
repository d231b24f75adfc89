// Package policy evaluates Rego guardrails against a loaded manifest.
//
// Guardrails run after schema and semantic validation and catch what the
// schema cannot express: cross-item conventions and combinations that
// validate cleanly but misbehave during a run. Builtin policies ship with
// the engine; operators add their own as .rego or .json files and load
// them with Engine.LoadPolicies.
//
// A policy contributes findings through its deny set. Entries are bare
// strings or objects with message, item and severity fields. Error
// findings fail validation; everything else is reported as a warning.
package policy
