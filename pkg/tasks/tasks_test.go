package tasks

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embercast/kindler/pkg/config"
	"github.com/embercast/kindler/pkg/engine"
	"github.com/embercast/kindler/pkg/inventory"
)

// fakeConn scripts command responses by prefix match, in registration
// order. Unscripted commands succeed with empty output.
type fakeConn struct {
	mu       sync.Mutex
	scripts  []script
	executed []string
}

type script struct {
	prefix string
	stdout string
	err    error
}

func (c *fakeConn) on(prefix, stdout string, err error) *fakeConn {
	c.scripts = append(c.scripts, script{prefix: prefix, stdout: stdout, err: err})
	return c
}

func (c *fakeConn) exec(cmd string) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executed = append(c.executed, cmd)
	for _, s := range c.scripts {
		if strings.HasPrefix(cmd, s.prefix) {
			return s.stdout, "", s.err
		}
	}
	return "", "", nil
}

func (c *fakeConn) ran(prefix string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cmd := range c.executed {
		if strings.HasPrefix(cmd, prefix) {
			return true
		}
	}
	return false
}

func (c *fakeConn) Run(_ context.Context, cmd string) (string, string, error)  { return c.exec(cmd) }
func (c *fakeConn) Sudo(_ context.Context, cmd string) (string, string, error) { return c.exec(cmd) }
func (c *fakeConn) Upload(context.Context, string, string, uint32) error       { return nil }
func (c *fakeConn) Download(context.Context, string, string) error             { return nil }
func (c *fakeConn) Remove(context.Context, string) error                       { return nil }

func workerHost() *inventory.Host {
	return &inventory.Host{ID: "worker-1", Address: "10.0.0.20", User: "ubuntu", Groups: []string{"workers"}}
}

func TestParsePingLatency(t *testing.T) {
	cases := []struct {
		name   string
		output string
		want   string
	}{
		{
			"linux summary",
			"2 packets transmitted, 2 received, 0% packet loss\nrtt min/avg/max/mdev = 12.3/14.5/16.0/1.2 ms",
			"14.5",
		},
		{"no summary", "2 packets transmitted, 0 received", ""},
		{"garbage", "avg but nothing else", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, parsePingLatency(tc.output))
		})
	}
}

func TestCheckConnectivity(t *testing.T) {
	task := &CheckConnectivity{}
	rc := engine.NewRunContext("run-1", engine.GoalVerify)

	conn := (&fakeConn{}).on("ping", "rtt min/avg/max/mdev = 10.0/12.0/14.0/2.0 ms", nil)
	out, err := task.Apply(context.Background(), rc, workerHost(), conn)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusOK, out.Status)
	assert.Contains(t, out.Message, "12.0ms")

	conn = (&fakeConn{}).on("ping", "", errors.New("100% packet loss"))
	_, err = task.Apply(context.Background(), rc, workerHost(), conn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestParseOSRelease(t *testing.T) {
	release := parseOSRelease(`NAME="Ubuntu"
ID=ubuntu
VERSION_ID="24.04"
VERSION_CODENAME=noble
PRETTY_NAME="Ubuntu 24.04 LTS"`)

	assert.Equal(t, "ubuntu", release["ID"])
	assert.Equal(t, "24.04", release["VERSION_ID"])
	assert.Equal(t, "noble", release["VERSION_CODENAME"])
}

func TestGatherFacts(t *testing.T) {
	task := &GatherFacts{}
	rc := engine.NewRunContext("run-1", engine.GoalInit)
	host := workerHost()

	conn := (&fakeConn{}).
		on("cat /etc/os-release", "ID=ubuntu\nVERSION_ID=\"24.04\"\nVERSION_CODENAME=noble", nil).
		on("dpkg --print-architecture", "amd64", nil)

	out, err := task.Apply(context.Background(), rc, host, conn)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusOK, out.Status)

	distro, codename, arch, err := hostFacts(rc, host.ID)
	require.NoError(t, err)
	assert.Equal(t, "ubuntu", distro)
	assert.Equal(t, "noble", codename)
	assert.Equal(t, "amd64", arch)
}

func TestGatherFactsRejectsUnsupportedDistro(t *testing.T) {
	task := &GatherFacts{}
	rc := engine.NewRunContext("run-1", engine.GoalInit)

	conn := (&fakeConn{}).
		on("cat /etc/os-release", "ID=fedora\nVERSION_ID=41", nil).
		on("dpkg --print-architecture", "amd64", nil)

	_, err := task.Apply(context.Background(), rc, workerHost(), conn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported OS")
}

func TestHostFactsMissing(t *testing.T) {
	rc := engine.NewRunContext("run-1", engine.GoalInit)
	_, _, _, err := hostFacts(rc, "worker-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gather-facts must run first")
}

func TestJoinWorkerAlreadyJoined(t *testing.T) {
	task := &JoinWorker{}
	rc := engine.NewRunContext("run-1", engine.GoalInit)

	// test -e succeeds: the node carries a kubelet config already.
	conn := &fakeConn{}
	out, err := task.Apply(context.Background(), rc, workerHost(), conn)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusOK, out.Status)
	assert.False(t, out.Changed)
	assert.False(t, conn.ran("kubeadm join"))
}

func TestJoinWorkerRequiresJoinCommand(t *testing.T) {
	task := &JoinWorker{}
	rc := engine.NewRunContext("run-1", engine.GoalInit)

	conn := (&fakeConn{}).on("test -e "+kubeletConfPath, "", errors.New("missing"))
	_, err := task.Apply(context.Background(), rc, workerHost(), conn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "control plane init must run first")
}

func TestJoinWorker(t *testing.T) {
	task := &JoinWorker{}
	rc := engine.NewRunContext("run-1", engine.GoalInit)
	rc.Set(KeyJoinCommand, "kubeadm join 10.0.0.10:6443 --token abc.def")

	conn := (&fakeConn{}).on("test -e "+kubeletConfPath, "", errors.New("missing"))
	out, err := task.Apply(context.Background(), rc, workerHost(), conn)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusChanged, out.Status)
	assert.True(t, out.Changed)
	assert.True(t, conn.ran("kubeadm join 10.0.0.10:6443"))
}

func TestAptInstallIdempotent(t *testing.T) {
	// Every package reports installed: nothing to do.
	conn := &fakeConn{}
	changed, err := aptInstall(context.Background(), conn, "curl", "gnupg")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.False(t, conn.ran("DEBIAN_FRONTEND"))

	// One package missing triggers an install.
	conn = (&fakeConn{}).on("dpkg -s gnupg", "", errors.New("not installed"))
	changed, err = aptInstall(context.Background(), conn, "curl", "gnupg")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, conn.ran("DEBIAN_FRONTEND=noninteractive apt-get install -y curl gnupg"))
}

func TestAddAptRepositoryConverged(t *testing.T) {
	// Source list and key already present: no commands beyond the probes.
	conn := &fakeConn{}
	changed, err := addAptRepository(context.Background(), conn,
		"docker", "deb [arch=amd64] https://download.docker.com/linux/ubuntu noble stable",
		"https://download.docker.com/linux/ubuntu/gpg", "/etc/apt/keyrings/docker.gpg")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.False(t, conn.ran("apt-get update"))
}

func TestDefaultRegistry(t *testing.T) {
	settings := &config.Settings{
		Environment: "dev",
		Azure: config.AzureSettings{
			SubscriptionID: "6f1c2a9e-8b3d-4e5f-9a7b-1c2d3e4f5a6b",
			TenantID:       "0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d",
			Location:       "westeurope",
			ResourceGroup:  "rg",
			ClusterName:    "c1",
		},
		Kubernetes: config.KubernetesSettings{
			Version:        "1.31",
			PodCIDR:        "10.244.0.0/16",
			CNIManifestURL: "https://example.com/cni.yaml",
			KubeconfigPath: "/tmp/kubeconfig",
		},
		GitOps: config.GitOpsSettings{
			RepoURL: "https://github.com/embercast/fleet.git",
			Branch:  "main",
			Path:    "clusters/production",
		},
	}

	reg := DefaultRegistry(settings)

	goals := reg.Goals()
	require.Equal(t, []engine.Goal{
		engine.GoalVerify, engine.GoalInit, engine.GoalArcConnect, engine.GoalDestroy,
	}, goals)

	for _, goal := range goals {
		steps, err := reg.Resolve(goal)
		require.NoError(t, err, "goal %s", goal)
		require.NotEmpty(t, steps, "goal %s", goal)
	}

	// INIT brings the control plane up before workers join.
	steps, err := reg.Resolve(engine.GoalInit)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, engine.GroupLocal, steps[0].Group)
	assert.Equal(t, engine.GroupControlPlane, steps[1].Group)
	assert.Equal(t, engine.GroupWorkers, steps[2].Group)
	assert.Equal(t, "init-control-plane", steps[1].Tasks[len(steps[1].Tasks)-2].Name())
	assert.Equal(t, "join-worker", steps[2].Tasks[len(steps[2].Tasks)-1].Name())

	// DESTROY drains workers before the control plane goes away.
	steps, err = reg.Resolve(engine.GoalDestroy)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, engine.GroupWorkers, steps[0].Group)
	assert.Equal(t, engine.GroupControlPlane, steps[1].Group)
	assert.Equal(t, engine.GroupLocal, steps[2].Group)
}
