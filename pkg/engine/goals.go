package engine

// Goal is a symbolic high-level intent driving one Engine run. The set of
// goals is closed and known at compile time; new goals are added here and
// given a plan through Registry.Register.
type Goal string

const (
	// GoalVerify checks connectivity, credentials and node health without
	// changing any system state.
	GoalVerify Goal = "VERIFY"

	// GoalInit provisions the Kubernetes cluster end to end.
	GoalInit Goal = "INIT"

	// GoalArcConnect projects an initialized cluster into Azure Arc.
	GoalArcConnect Goal = "ARC-CONNECT"

	// GoalDestroy tears the cluster down.
	GoalDestroy Goal = "DESTROY"
)

// ParseGoal maps a CLI argument to a known Goal.
func ParseGoal(s string) (Goal, error) {
	switch Goal(s) {
	case GoalVerify, GoalInit, GoalArcConnect, GoalDestroy:
		return Goal(s), nil
	}
	return "", NewConfigError("unknown goal: "+s, nil).WithCode(ErrCodeUnknownGoal)
}

// HostGroup is a symbolic scope tag partitioning hosts for task targeting.
// Groups are static labels carried by the inventory, not discovered at
// runtime.
type HostGroup string

const (
	// GroupLocal is the control machine kindler itself runs on.
	GroupLocal HostGroup = "local-machine"

	// GroupControlPlane holds the Kubernetes control-plane nodes.
	GroupControlPlane HostGroup = "control-plane"

	// GroupWorkers holds the Kubernetes worker nodes.
	GroupWorkers HostGroup = "workers"
)
