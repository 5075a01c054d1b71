// Package flow defines the two graphs breakfix runs.
//
// The project graph takes an idea through specification, harness building,
// scaffolding, prototyping, refinement and distillation, then works through
// the distilled unit queue in dependency order. Every testable unit is handed
// to a fresh engine running the unit graph: a red/green ratchet per test
// case, mutation hardening with sentinel tests, then optimization. The unit
// engine runs to completion before the project graph moves on.
//
// Every external effect goes through the capability bag, Deps. Nodes only
// decide what to ask for next; the collaborators behind Deps do the work.
package flow
