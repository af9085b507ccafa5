package tasks

import (
	"context"
	"fmt"

	"github.com/embercast/kindler/pkg/engine"
	"github.com/embercast/kindler/pkg/inventory"
)

const containerdConfigPath = "/etc/containerd/config.toml"

// InstallContainerd installs containerd from the Docker repository and
// switches it to the systemd cgroup driver.
type InstallContainerd struct{}

func (t *InstallContainerd) Name() string { return "install-containerd" }

func (t *InstallContainerd) Description() string {
	return "Install and configure containerd as the CRI"
}

func (t *InstallContainerd) Apply(ctx context.Context, rc *engine.RunContext, host *inventory.Host, conn engine.Conn) (engine.Outcome, error) {
	distro, codename, arch, err := hostFacts(rc, host.ID)
	if err != nil {
		return engine.Outcome{}, err
	}

	changed, err := aptInstall(ctx, conn,
		"ca-certificates", "curl", "gnupg", "apt-transport-https")
	if err != nil {
		return engine.Outcome{}, err
	}

	keyPath := "/etc/apt/keyrings/docker.gpg"
	repoLine := fmt.Sprintf("deb [arch=%s signed-by=%s] https://download.docker.com/linux/%s %s stable",
		arch, keyPath, distro, codename)
	repoChanged, err := addAptRepository(ctx, conn, "docker", repoLine,
		fmt.Sprintf("https://download.docker.com/linux/%s/gpg", distro), keyPath)
	if err != nil {
		return engine.Outcome{}, err
	}

	pkgChanged, err := aptInstall(ctx, conn, "containerd.io")
	if err != nil {
		return engine.Outcome{}, err
	}

	cfgChanged, err := t.configure(ctx, conn)
	if err != nil {
		return engine.Outcome{}, err
	}

	if cfgChanged {
		if _, stderr, err := conn.Sudo(ctx, "systemctl enable --now containerd && systemctl restart containerd"); err != nil {
			return engine.Outcome{}, fmt.Errorf("failed to restart containerd: %s: %w", stderr, err)
		}
	}

	if changed || repoChanged || pkgChanged || cfgChanged {
		return engine.ChangedOutcome("containerd installed and configured (SystemdCgroup=true)"), nil
	}
	return engine.OK("containerd already installed and configured"), nil
}

// configure generates the default config when absent and enables the
// systemd cgroup driver kubelet expects.
func (t *InstallContainerd) configure(ctx context.Context, conn engine.Conn) (bool, error) {
	if _, stderr, err := conn.Sudo(ctx, "mkdir -p /etc/containerd"); err != nil {
		return false, fmt.Errorf("failed to create /etc/containerd: %s: %w", stderr, err)
	}

	changed := false
	if !fileExists(ctx, conn, containerdConfigPath) {
		genCmd := fmt.Sprintf("sh -c 'containerd config default > %s'", containerdConfigPath)
		if _, stderr, err := conn.Sudo(ctx, genCmd); err != nil {
			return false, fmt.Errorf("failed to generate containerd config: %s: %w", stderr, err)
		}
		changed = true
	}

	grepCmd := fmt.Sprintf("grep -qE 'SystemdCgroup[[:space:]]*=[[:space:]]*true' %s", containerdConfigPath)
	if _, _, err := conn.Run(ctx, grepCmd); err != nil {
		sedCmd := fmt.Sprintf(`sed -i -E 's|(SystemdCgroup[[:space:]]*=[[:space:]]*)false|\1true|' %s`, containerdConfigPath)
		if _, stderr, err := conn.Sudo(ctx, sedCmd); err != nil {
			return false, fmt.Errorf("failed to patch containerd config: %s: %w", stderr, err)
		}
		changed = true
	}

	return changed, nil
}
