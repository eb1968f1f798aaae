// Package command defines the canonical command envelope and the registry that
// records which instance type accepts each command type.
//
// Commands are immutable requests addressed to one instance. The registry marks
// the single bootstrap command type per instance kind, the only command admitted
// before the instance exists.
package command
