package tasks

// Run context keys shared between tasks. The control-plane init
// publishes the join command and kubeconfig path; workers and the Arc
// onboarding consume them.
const (
	// KeyJoinCommand is the kubeadm join command for worker nodes.
	KeyJoinCommand = "kubeadm.join-command"

	// KeyKubeconfig is the local path of the fetched admin kubeconfig.
	KeyKubeconfig = "kubeconfig.path"
)

// Per-host fact keys, namespaced by host id.
const (
	factDistro   = "distro"
	factCodename = "codename"
	factVersion  = "version"
	factArch     = "arch"
)

// FactKey builds the run context key for one host fact.
func FactKey(hostID, fact string) string {
	return "facts." + hostID + "." + fact
}
