package tasks

import (
	"context"
	"fmt"

	"github.com/embercast/kindler/pkg/config"
	"github.com/embercast/kindler/pkg/engine"
	"github.com/embercast/kindler/pkg/inventory"
)

const fluxMarkerPath = "/var/lib/kindler-flux-bootstrapped"

// BootstrapFlux installs the Flux CLI on the control-plane node and
// bootstraps the GitOps pipeline against the configured repository.
type BootstrapFlux struct {
	Settings config.GitOpsSettings
}

func (t *BootstrapFlux) Name() string { return "bootstrap-flux" }

func (t *BootstrapFlux) Description() string {
	return "Install Flux and bootstrap GitOps from the configured repository"
}

func (t *BootstrapFlux) Apply(ctx context.Context, rc *engine.RunContext, host *inventory.Host, conn engine.Conn) (engine.Outcome, error) {
	if fileExists(ctx, conn, fluxMarkerPath) {
		return engine.OK("flux already bootstrapped"), nil
	}

	if err := t.installCLI(ctx, conn); err != nil {
		return engine.Outcome{}, err
	}

	bootstrapCmd := fmt.Sprintf(
		"KUBECONFIG=$HOME/.kube/config flux bootstrap git --url=%s --branch=%s --path=%s --silent",
		t.Settings.RepoURL, t.Settings.Branch, t.Settings.Path)
	if _, stderr, err := conn.Run(ctx, bootstrapCmd); err != nil {
		return engine.Outcome{}, fmt.Errorf("flux bootstrap failed: %s: %w", lastLines(stderr, 5), err)
	}

	markerCmd := fmt.Sprintf("sh -c 'echo bootstrapped > %s'", fluxMarkerPath)
	if _, stderr, err := conn.Sudo(ctx, markerCmd); err != nil {
		return engine.Outcome{}, fmt.Errorf("failed to write bootstrap marker: %s: %w", stderr, err)
	}

	return engine.ChangedOutcome("GitOps pipeline active"), nil
}

func (t *BootstrapFlux) installCLI(ctx context.Context, conn engine.Conn) error {
	if commandExists(ctx, conn, "flux") {
		return nil
	}

	script := "/tmp/kindler-install-flux.sh"
	downloadCmd := fmt.Sprintf("curl -sS https://fluxcd.io/install.sh -o %s && chmod +x %s", script, script)
	if _, stderr, err := conn.Run(ctx, downloadCmd); err != nil {
		return fmt.Errorf("failed to download flux installer: %s: %w", stderr, err)
	}
	defer func() { _ = conn.Remove(context.WithoutCancel(ctx), script) }()

	if _, stderr, err := conn.Sudo(ctx, script); err != nil {
		return fmt.Errorf("failed to install flux CLI: %s: %w", stderr, err)
	}
	return nil
}
