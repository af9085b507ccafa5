package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/embercast/kindler/pkg/config"
	"github.com/embercast/kindler/pkg/engine"
	"github.com/embercast/kindler/pkg/inventory"
)

// CheckAzureAuth verifies an Azure CLI session exists on the control
// machine without mutating anything. A session whose token is close to
// expiry degrades to a WARNING so VERIFY surfaces it before INIT trips
// over it.
type CheckAzureAuth struct {
	Settings config.AzureSettings
}

func (t *CheckAzureAuth) Name() string { return "check-azure-auth" }

func (t *CheckAzureAuth) Description() string {
	return "Verify the Azure CLI session and subscription context"
}

func (t *CheckAzureAuth) Apply(ctx context.Context, rc *engine.RunContext, host *inventory.Host, conn engine.Conn) (engine.Outcome, error) {
	if !commandExists(ctx, conn, "az") {
		return engine.Outcome{}, fmt.Errorf("azure CLI not installed, run the INIT goal first")
	}

	stdout, _, err := conn.Run(ctx, "az account show --output json")
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("not authenticated, manual 'az login' required: %w", err)
	}

	var account struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(stdout), &account); err != nil {
		return engine.Outcome{}, fmt.Errorf("unexpected 'az account show' output: %w", err)
	}

	if account.ID != t.Settings.SubscriptionID {
		return engine.Warning(fmt.Sprintf("authenticated, but active subscription is %s (want %s)",
			account.ID, t.Settings.SubscriptionID)), nil
	}

	// The access token carries its own expiry; a short remaining window
	// means long INIT runs may lose the session halfway.
	tokenOut, _, err := conn.Run(ctx, "az account get-access-token --output json")
	if err == nil {
		var token struct {
			ExpiresOn string `json:"expiresOn"`
		}
		if json.Unmarshal([]byte(tokenOut), &token) == nil && token.ExpiresOn != "" {
			if expires, perr := time.Parse("2006-01-02 15:04:05.000000", token.ExpiresOn); perr == nil {
				if remaining := time.Until(expires); remaining < 10*time.Minute {
					return engine.Warning(fmt.Sprintf("authenticated, but token expires in %s",
						remaining.Round(time.Second))), nil
				}
			}
		}
	}

	return engine.OK(fmt.Sprintf("authenticated against subscription %s", account.Name)), nil
}

// EnsureAzureCLI installs the Azure CLI from the Microsoft apt
// repository when missing.
type EnsureAzureCLI struct{}

func (t *EnsureAzureCLI) Name() string { return "ensure-azure-cli" }

func (t *EnsureAzureCLI) Description() string {
	return "Install the Azure CLI if not present"
}

func (t *EnsureAzureCLI) Apply(ctx context.Context, rc *engine.RunContext, host *inventory.Host, conn engine.Conn) (engine.Outcome, error) {
	if commandExists(ctx, conn, "az") {
		return engine.OK("azure CLI already installed"), nil
	}

	_, codename, arch, err := hostFacts(rc, host.ID)
	if err != nil {
		return engine.Outcome{}, err
	}

	keyPath := "/etc/apt/keyrings/microsoft.gpg"
	repoLine := fmt.Sprintf("deb [arch=%s signed-by=%s] https://packages.microsoft.com/repos/azure-cli/ %s main",
		arch, keyPath, codename)

	if _, err := addAptRepository(ctx, conn, "azure-cli", repoLine,
		"https://packages.microsoft.com/keys/microsoft.asc", keyPath); err != nil {
		return engine.Outcome{}, err
	}
	if _, err := aptInstall(ctx, conn, "azure-cli"); err != nil {
		return engine.Outcome{}, err
	}

	return engine.ChangedOutcome("azure CLI installed"), nil
}

// EnsureAzureLogin verifies authentication and pins the subscription
// context. Login itself is interactive and out of scope; a missing
// session fails the task with instructions.
type EnsureAzureLogin struct {
	Settings config.AzureSettings
}

func (t *EnsureAzureLogin) Name() string { return "ensure-azure-login" }

func (t *EnsureAzureLogin) Description() string {
	return "Verify Azure authentication and set the subscription"
}

func (t *EnsureAzureLogin) Apply(ctx context.Context, rc *engine.RunContext, host *inventory.Host, conn engine.Conn) (engine.Outcome, error) {
	stdout, _, err := conn.Run(ctx, "az account show --output json")
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("not authenticated, manual 'az login' required: %w", err)
	}

	var account struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(stdout), &account); err != nil {
		return engine.Outcome{}, fmt.Errorf("unexpected 'az account show' output: %w", err)
	}
	if account.ID == t.Settings.SubscriptionID {
		return engine.OK(fmt.Sprintf("authenticated, context already set to %s", t.Settings.SubscriptionID)), nil
	}

	if _, stderr, err := conn.Run(ctx, "az account set --subscription "+t.Settings.SubscriptionID); err != nil {
		return engine.Outcome{}, fmt.Errorf("logged in, but failed to set subscription %s, check permissions: %s: %w",
			t.Settings.SubscriptionID, stderr, err)
	}

	return engine.ChangedOutcome(fmt.Sprintf("subscription context set to %s", t.Settings.SubscriptionID)), nil
}

// ConnectArcAgent onboards the cluster to Azure Arc via az connectedk8s.
// Runs on the control machine against the fetched kubeconfig.
type ConnectArcAgent struct {
	Settings   config.AzureSettings
	Kubeconfig string
}

func (t *ConnectArcAgent) Name() string { return "connect-arc-agent" }

func (t *ConnectArcAgent) Description() string {
	return "Connect the cluster to Azure Arc"
}

func (t *ConnectArcAgent) Apply(ctx context.Context, rc *engine.RunContext, host *inventory.Host, conn engine.Conn) (engine.Outcome, error) {
	kubeconfig := t.Kubeconfig
	if fromRun, ok := rc.Get(KeyKubeconfig); ok {
		kubeconfig = fromRun
	}
	if kubeconfig == "" {
		return engine.Outcome{}, fmt.Errorf("no kubeconfig available, run the INIT goal first")
	}

	showCmd := fmt.Sprintf("az connectedk8s show --name %s --resource-group %s --output none",
		t.Settings.ClusterName, t.Settings.ResourceGroup)
	if _, _, err := conn.Run(ctx, showCmd); err == nil {
		return engine.OK(fmt.Sprintf("cluster %s already connected to Azure Arc", t.Settings.ClusterName)), nil
	}

	connectCmd := fmt.Sprintf(
		"KUBECONFIG=%s az connectedk8s connect --name %s --resource-group %s --location %s --yes",
		kubeconfig, t.Settings.ClusterName, t.Settings.ResourceGroup, t.Settings.Location)
	if _, stderr, err := conn.Run(ctx, connectCmd); err != nil {
		return engine.Outcome{}, fmt.Errorf("arc onboarding failed: %s: %w", stderr, err)
	}

	return engine.ChangedOutcome(fmt.Sprintf("cluster %s connected to Azure Arc in %s",
		t.Settings.ClusterName, t.Settings.ResourceGroup)), nil
}
