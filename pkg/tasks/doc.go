// Package tasks contains the concrete provisioning tasks and the
// default goal registry. Every task probes current state before acting
// and reports Changed=false when the host already matches the desired
// end state, so repeated runs converge to all-unchanged results.
package tasks
