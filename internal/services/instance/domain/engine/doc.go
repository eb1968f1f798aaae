// Package engine runs one admitted command, or one recovered event, against an
// instance.
//
// A Handler drives the two phases. Process validates the command, records an
// engine version change when needed, and calls the instance behavior, which
// stages events through AddEvent. Every staged event is applied to the
// in-memory state immediately so later logic in the same command sees it.
// Complete fixes the response. Persistence and reply timing belong to the
// transaction package.
package engine
