// Package config loads the provisioning settings file and applies
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Settings is the validated provisioning configuration. Everything a
// goal run needs beyond the inventory lives here.
type Settings struct {
	// Environment names the deployment environment (dev, staging, prod).
	Environment string `yaml:"environment" validate:"required"`

	Azure      AzureSettings      `yaml:"azure"`
	Kubernetes KubernetesSettings `yaml:"kubernetes"`
	GitOps     GitOpsSettings     `yaml:"gitops"`
}

// AzureSettings configures the Azure subscription and Arc projection.
type AzureSettings struct {
	SubscriptionID string `yaml:"subscription_id" validate:"required,uuid4"`
	TenantID       string `yaml:"tenant_id" validate:"required,uuid4"`
	Location       string `yaml:"location" validate:"required"`
	ResourceGroup  string `yaml:"resource_group" validate:"required"`
	ClusterName    string `yaml:"cluster_name" validate:"required,hostname_rfc1123"`
}

// KubernetesSettings configures the cluster bootstrap.
type KubernetesSettings struct {
	// Version is the kubeadm/kubelet minor version to install.
	Version string `yaml:"version" validate:"required"`

	// PodCIDR is the pod network range handed to kubeadm init.
	PodCIDR string `yaml:"pod_cidr" validate:"required,cidr"`

	// CNIManifestURL is the network plugin manifest applied after init.
	CNIManifestURL string `yaml:"cni_manifest_url" validate:"required,url"`

	// KubeconfigPath is where the fetched admin kubeconfig lands on the
	// control machine.
	KubeconfigPath string `yaml:"kubeconfig_path" validate:"required"`
}

// GitOpsSettings configures the Flux bootstrap target.
type GitOpsSettings struct {
	RepoURL string `yaml:"repo_url" validate:"required,url"`
	Branch  string `yaml:"branch" validate:"required"`
	Path    string `yaml:"path" validate:"required"`
}

// Load reads the settings file, applies environment overrides and
// validates the result.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	return Parse(data)
}

// Parse builds settings from raw YAML.
func Parse(data []byte) (*Settings, error) {
	s := &Settings{
		Kubernetes: KubernetesSettings{
			Version:        "1.31",
			PodCIDR:        "10.244.0.0/16",
			CNIManifestURL: "https://raw.githubusercontent.com/flannel-io/flannel/master/Documentation/kube-flannel.yml",
			KubeconfigPath: filepath.Join(os.Getenv("HOME"), ".kube", "kindler.conf"),
		},
		GitOps: GitOpsSettings{
			Branch: "main",
			Path:   "clusters/production",
		},
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	s.applyEnvOverrides()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// applyEnvOverrides lets credentials and subscription targeting come
// from the environment instead of the settings file.
func (s *Settings) applyEnvOverrides() {
	overrides := map[string]*string{
		"KINDLER_AZURE_SUBSCRIPTION_ID": &s.Azure.SubscriptionID,
		"KINDLER_AZURE_TENANT_ID":       &s.Azure.TenantID,
		"KINDLER_AZURE_LOCATION":        &s.Azure.Location,
		"KINDLER_AZURE_RESOURCE_GROUP":  &s.Azure.ResourceGroup,
		"KINDLER_AZURE_CLUSTER_NAME":    &s.Azure.ClusterName,
		"KINDLER_GITOPS_REPO_URL":       &s.GitOps.RepoURL,
		"KINDLER_ENVIRONMENT":           &s.Environment,
	}
	for key, field := range overrides {
		if v := os.Getenv(key); v != "" {
			*field = v
		}
	}
}

// Validate checks the settings against their constraints.
func (s *Settings) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}
