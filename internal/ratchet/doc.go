// Package ratchet implements the two halves of the test-first cycle.
//
// Red asks an agent for exactly one new test for a test case and accepts it
// only once it exists at the expected path, is the single new test in the
// inventory, passes review, and fails against the stubbed code. Green asks
// an agent for the smallest implementation that makes the whole suite pass
// and leaves no unexecuted line inside the unit.
//
// Every rejected attempt is rewound with a workspace snapshot before the
// agent is told why, so a retry always starts from the same files.
package ratchet
