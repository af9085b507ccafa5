package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/embercast/kindler/pkg/engine"
	"github.com/embercast/kindler/pkg/inventory"
)

const connectivityTarget = "1.1.1.1"

// CheckConnectivity verifies the host can reach the internet.
type CheckConnectivity struct{}

func (t *CheckConnectivity) Name() string { return "check-connectivity" }

func (t *CheckConnectivity) Description() string {
	return "Verify internet reachability from the host"
}

func (t *CheckConnectivity) Apply(ctx context.Context, rc *engine.RunContext, host *inventory.Host, conn engine.Conn) (engine.Outcome, error) {
	stdout, _, err := conn.Run(ctx, fmt.Sprintf("ping -c 2 %s", connectivityTarget))
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("unreachable: %s, check network/DNS: %w", connectivityTarget, err)
	}

	msg := fmt.Sprintf("connectivity to %s verified", connectivityTarget)
	if latency := parsePingLatency(stdout); latency != "" {
		msg += fmt.Sprintf(" (latency %sms)", latency)
	}
	return engine.OK(msg), nil
}

// parsePingLatency extracts the average round trip from ping's summary
// line, e.g. "rtt min/avg/max/mdev = 12.3/14.5/16.0/1.2 ms".
func parsePingLatency(output string) string {
	idx := strings.Index(output, "avg")
	if idx < 0 {
		return ""
	}
	rest := output[idx:]
	eq := strings.Index(rest, "=")
	if eq < 0 {
		return ""
	}
	fields := strings.Split(strings.TrimSpace(rest[eq+1:]), "/")
	if len(fields) < 2 {
		return ""
	}
	return strings.TrimSpace(fields[1])
}
