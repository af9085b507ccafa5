package inventory

import (
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// hostsFile is the on-disk shape: a map of host id to host attributes.
//
//	control-1:
//	  address: 10.0.0.10
//	  user: ubuntu
//	  key_path: ~/.ssh/id_ed25519
//	  groups: [control-plane]
//	workers:
//	  ...
//	local:
//	  local: true
//	  groups: [local-machine]
type hostsFile map[string]*Host

// Load reads and validates an inventory file. The control machine
// sentinel is appended automatically when no host declares local: true.
func Load(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}
	return Parse(data)
}

// Parse builds an inventory from raw YAML.
func Parse(data []byte) (*Inventory, error) {
	var file hostsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse inventory: %w", err)
	}

	// Map iteration order is random; keep host order stable.
	ids := make([]string, 0, len(file))
	for id := range file {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	validate := validator.New(validator.WithRequiredStructEnabled())
	hasLocal := false
	hosts := make([]*Host, 0, len(file)+1)
	for _, id := range ids {
		h := file[id]
		if h == nil {
			h = &Host{}
		}
		h.ID = id
		if h.InGroup("local-machine") {
			h.Local = true
		}
		if h.Local {
			hasLocal = true
		}
		if err := validate.Struct(h); err != nil {
			return nil, fmt.Errorf("invalid host %q: %w", id, err)
		}
		if !h.Local && (h.Address == "" || h.User == "") {
			return nil, fmt.Errorf("invalid host %q: remote hosts need address and user", id)
		}
		hosts = append(hosts, h)
	}

	if !hasLocal {
		hosts = append(hosts, LocalHost())
	}

	return New(hosts...)
}
