// Package checkpoint persists graph results as numbered, append-only records
// so an interrupted run can resume.
//
// Each record lives in its own file, checkpoint-000001.json,
// checkpoint-000002.json and so on. Numbers start at 1, increase strictly and
// are never reused: [Store.Append] assigns max(existing)+1 and refuses to
// replace an existing file. Records hold a structural serialization of the
// result (node name plus JSON state, terminal value or signal message), never
// a captured closure.
//
// A [FileLock] from [NewFileLock] serializes appends across processes
// sharing a directory; [NewRunLock] admits one run per state directory on a
// separate lock file. [Store.Watch] follows new records through fsnotify for the
// "breakfix checkpoints watch" command.
package checkpoint
