package tasks

import (
	"github.com/embercast/kindler/pkg/config"
	"github.com/embercast/kindler/pkg/engine"
)

// DefaultRegistry builds the goal table. Declaration order is execution
// order: within INIT the local machine is verified first, the control
// plane comes up before workers join, and DESTROY drains workers before
// the control plane goes away.
func DefaultRegistry(settings *config.Settings) *engine.Registry {
	connectivity := &CheckConnectivity{}
	facts := &GatherFacts{}
	hostname := &SetHostname{}
	prepare := &PrepareNode{}
	containerd := &InstallContainerd{}
	kubeTools := &InstallKubeTools{Settings: settings.Kubernetes}
	reset := &ResetNode{}

	r := engine.NewRegistry()

	r.Register(engine.GoalVerify, engine.GroupLocal,
		connectivity,
		&CheckAzureAuth{Settings: settings.Azure},
	)
	r.Register(engine.GoalVerify, engine.GroupControlPlane, connectivity, facts)
	r.Register(engine.GoalVerify, engine.GroupWorkers, connectivity, facts)

	r.Register(engine.GoalInit, engine.GroupLocal,
		connectivity,
		facts,
		&EnsureAzureCLI{},
		&EnsureAzureLogin{Settings: settings.Azure},
	)
	r.Register(engine.GoalInit, engine.GroupControlPlane,
		connectivity,
		facts,
		hostname,
		prepare,
		containerd,
		kubeTools,
		&InitControlPlane{Settings: settings.Kubernetes},
		&BootstrapFlux{Settings: settings.GitOps},
	)
	r.Register(engine.GoalInit, engine.GroupWorkers,
		connectivity,
		facts,
		hostname,
		prepare,
		containerd,
		kubeTools,
		&JoinWorker{},
	)

	r.Register(engine.GoalArcConnect, engine.GroupLocal,
		connectivity,
		facts,
		&EnsureAzureCLI{},
		&EnsureAzureLogin{Settings: settings.Azure},
		&ConnectArcAgent{Settings: settings.Azure, Kubeconfig: settings.Kubernetes.KubeconfigPath},
	)

	r.Register(engine.GoalDestroy, engine.GroupWorkers, reset)
	r.Register(engine.GoalDestroy, engine.GroupControlPlane, reset)
	r.Register(engine.GoalDestroy, engine.GroupLocal,
		&RemoveKubeconfig{Settings: settings.Kubernetes},
	)

	return r
}
