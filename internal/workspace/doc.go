// Package workspace manages the directories an agent edits: copying the
// prototype into a fresh production tree, taking snapshots that can rewind
// an agent's edits, and tracking which files an agent touched.
package workspace
