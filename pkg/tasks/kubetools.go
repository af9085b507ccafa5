package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/embercast/kindler/pkg/config"
	"github.com/embercast/kindler/pkg/engine"
	"github.com/embercast/kindler/pkg/inventory"
)

// InstallKubeTools installs kubeadm, kubelet and kubectl from the
// version-pinned Kubernetes repository and holds the packages.
type InstallKubeTools struct {
	Settings config.KubernetesSettings
}

func (t *InstallKubeTools) Name() string { return "install-kube-tools" }

func (t *InstallKubeTools) Description() string {
	return "Install kubeadm, kubelet and kubectl"
}

func (t *InstallKubeTools) Apply(ctx context.Context, rc *engine.RunContext, host *inventory.Host, conn engine.Conn) (engine.Outcome, error) {
	_, _, arch, err := hostFacts(rc, host.ID)
	if err != nil {
		return engine.Outcome{}, err
	}

	version := t.Settings.Version
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}

	keyPath := "/etc/apt/keyrings/kubernetes-apt-keyring.gpg"
	repoLine := fmt.Sprintf("deb [arch=%s signed-by=%s] https://pkgs.k8s.io/core:/stable:/%s/deb/ /",
		arch, keyPath, version)
	repoChanged, err := addAptRepository(ctx, conn, "kubernetes", repoLine,
		fmt.Sprintf("https://pkgs.k8s.io/core:/stable:/%s/deb/Release.key", version), keyPath)
	if err != nil {
		return engine.Outcome{}, err
	}

	pkgChanged, err := aptInstall(ctx, conn, "kubeadm", "kubelet", "kubectl")
	if err != nil {
		return engine.Outcome{}, err
	}
	if pkgChanged {
		if _, stderr, err := conn.Sudo(ctx, "apt-mark hold kubeadm kubelet kubectl"); err != nil {
			return engine.Outcome{}, fmt.Errorf("failed to hold kube packages: %s: %w", stderr, err)
		}
		if _, stderr, err := conn.Sudo(ctx, "systemctl enable kubelet"); err != nil {
			return engine.Outcome{}, fmt.Errorf("failed to enable kubelet: %s: %w", stderr, err)
		}
	}

	if repoChanged || pkgChanged {
		return engine.ChangedOutcome(fmt.Sprintf("kube tools %s installed and held", version)), nil
	}
	return engine.OK("kube tools already installed"), nil
}
