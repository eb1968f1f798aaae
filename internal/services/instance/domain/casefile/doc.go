// Package casefile is a small instance type: a case that is opened, receives
// notes and assignments, and is eventually closed. The CLI and the end-to-end
// tests run it on the instance host.
package casefile
