// Package manifest loads, validates and queries the puppet manifest.
//
// The manifest is a YAML document declaring accounts and the sections of
// work to converge: launches, spoke-local-portfolios, assertions,
// code-build-runs and lambda-invocations. Loading goes through three
// gates: YAML decode, a CUE schema check of the raw document, and struct
// validation of the decoded types. Defaults (status, execution, dependency
// affinity) are applied after validation.
//
// The Accessor provides pure, memoized queries over one loaded document.
// All accessor results are deterministically ordered so a fixed manifest
// always produces the same task set.
//
// Reduce builds the spoke-scoped manifest shipped to a single account:
// only the spoke-execution items targeting that account plus their
// dependency closure survive, with account selectors narrowed.
package manifest
