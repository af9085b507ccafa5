// Package engine implements the goal-driven orchestration core of kindler.
// A Goal resolves through the Registry into an ordered plan of Steps, each
// Step pairing a HostGroup with an ordered task list. The Engine walks the
// plan Step by Step, fans each task out across the group's hosts through a
// bounded worker pool, joins at a barrier before the next task starts, and
// aggregates every outcome into a sealed Report.
package engine
