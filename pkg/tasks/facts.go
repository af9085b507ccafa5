package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/embercast/kindler/pkg/engine"
	"github.com/embercast/kindler/pkg/inventory"
)

var supportedDistros = []string{"ubuntu", "debian"}

// GatherFacts detects the OS distribution, codename and CPU
// architecture and publishes them to the run context for later tasks.
// Fails on unsupported distributions before anything gets installed.
type GatherFacts struct{}

func (t *GatherFacts) Name() string { return "gather-facts" }

func (t *GatherFacts) Description() string {
	return "Detect OS distribution, codename and architecture"
}

func (t *GatherFacts) Apply(ctx context.Context, rc *engine.RunContext, host *inventory.Host, conn engine.Conn) (engine.Outcome, error) {
	stdout, _, err := conn.Run(ctx, "cat /etc/os-release")
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("could not read /etc/os-release: %w", err)
	}
	release := parseOSRelease(stdout)

	arch, _, err := conn.Run(ctx, "dpkg --print-architecture")
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("could not determine architecture: %w", err)
	}
	arch = strings.TrimSpace(arch)

	distro := strings.ToLower(release["ID"])
	supported := false
	for _, id := range supportedDistros {
		if distro == id {
			supported = true
			break
		}
	}
	if !supported {
		return engine.Outcome{}, fmt.Errorf("unsupported OS %q, only %s are supported",
			distro, strings.Join(supportedDistros, "/"))
	}

	rc.Set(FactKey(host.ID, factDistro), distro)
	rc.Set(FactKey(host.ID, factCodename), release["VERSION_CODENAME"])
	rc.Set(FactKey(host.ID, factVersion), release["VERSION_ID"])
	rc.Set(FactKey(host.ID, factArch), arch)

	return engine.OK(fmt.Sprintf("OS verified: %s %s (%s) on %s",
		distro, release["VERSION_ID"], release["VERSION_CODENAME"], arch)), nil
}

func parseOSRelease(output string) map[string]string {
	data := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		data[key] = strings.Trim(strings.TrimSpace(value), `"`)
	}
	return data
}

// hostFacts reads the facts gathered for one host back out of the run
// context.
func hostFacts(rc *engine.RunContext, hostID string) (distro, codename, arch string, err error) {
	distro, ok := rc.Get(FactKey(hostID, factDistro))
	if !ok {
		return "", "", "", fmt.Errorf("missing OS facts for %s, gather-facts must run first", hostID)
	}
	codename, _ = rc.Get(FactKey(hostID, factCodename))
	arch, _ = rc.Get(FactKey(hostID, factArch))
	return distro, codename, arch, nil
}
