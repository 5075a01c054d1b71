// Package crucible hardens a green unit with mutation analysis.
//
// A configured mutation tool mutates the unit's module and prints one JSON
// array per mutant, [job, result], in the format of cosmic-ray's dump
// command. Only mutants whose first mutation starts inside the unit's line
// range count toward its score. Survivors go to the sentinel, an agent that
// writes one test aimed at a single mutant, and the verifier re-runs the
// analysis to prove the mutant is gone.
package crucible
