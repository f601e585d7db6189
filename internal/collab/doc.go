// Package collab is the collaboration client: it binds one identity to one workspace,
// buffers local edits per file and flushes them after a quiet period, polls the
// workspace service for file drift, cursors and presence, and hands what it finds to
// single-slot handlers installed by the editing surface.
//
// No ordering is guaranteed between the poll loops, the push feed and buffer flushes.
// A file update from a poll may be delivered before or after a flush of the same file
// completes; handlers must treat every notification as the latest known state.
//
// Remote failures never abort a session. They are logged, counted, and the affected
// change stays queued until a later flush pass succeeds.
package collab
