// Package inventory holds the read-only host model consumed by the
// engine. Hosts are loaded once per run from a YAML file and handed to
// the engine by reference; the engine never mutates them.
package inventory

import (
	"fmt"
	"sort"
)

// Host describes one target: identity, connection address, credential
// reference and group memberships.
type Host struct {
	// ID is the unique host identifier, also used as the hostname set on
	// the node during provisioning.
	ID string `yaml:"-" validate:"required"`

	// Address is the SSH endpoint. Empty for the local sentinel.
	Address string `yaml:"address"`

	// Port is the SSH port, defaulting to 22.
	Port int `yaml:"port"`

	// User is the SSH login user.
	User string `yaml:"user"`

	// KeyPath references the private key used to authenticate. The key
	// itself is never loaded into the inventory.
	KeyPath string `yaml:"key_path"`

	// Groups are the HostGroup tags this host belongs to.
	Groups []string `yaml:"groups" validate:"min=1"`

	// Local marks the control machine sentinel, executed in-process
	// instead of over SSH.
	Local bool `yaml:"local"`
}

// InGroup reports whether the host carries the group tag.
func (h *Host) InGroup(group string) bool {
	for _, g := range h.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// Endpoint returns the dialable address, applying the default port.
func (h *Host) Endpoint() string {
	port := h.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", h.Address, port)
}

// Inventory is a read-only collection of hosts with group lookup.
type Inventory struct {
	hosts []*Host
	byID  map[string]*Host
}

// New builds an inventory from hosts, rejecting duplicate ids.
func New(hosts ...*Host) (*Inventory, error) {
	inv := &Inventory{byID: make(map[string]*Host, len(hosts))}
	for _, h := range hosts {
		if h.ID == "" {
			return nil, fmt.Errorf("inventory host without id")
		}
		if _, dup := inv.byID[h.ID]; dup {
			return nil, fmt.Errorf("duplicate host id %q", h.ID)
		}
		inv.byID[h.ID] = h
		inv.hosts = append(inv.hosts, h)
	}
	return inv, nil
}

// LocalHost returns the control machine sentinel.
func LocalHost() *Host {
	return &Host{
		ID:     "local",
		Local:  true,
		Groups: []string{"local-machine"},
	}
}

// All returns every host in a stable order.
func (i *Inventory) All() []*Host {
	out := make([]*Host, len(i.hosts))
	copy(out, i.hosts)
	return out
}

// Get looks a host up by id.
func (i *Inventory) Get(id string) (*Host, bool) {
	h, ok := i.byID[id]
	return h, ok
}

// InGroup returns every host carrying the group tag, in load order.
func (i *Inventory) InGroup(group string) []*Host {
	var out []*Host
	for _, h := range i.hosts {
		if h.InGroup(group) {
			out = append(out, h)
		}
	}
	return out
}

// Groups lists every group tag present, sorted.
func (i *Inventory) Groups() []string {
	seen := make(map[string]struct{})
	for _, h := range i.hosts {
		for _, g := range h.Groups {
			seen[g] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Len returns the host count.
func (i *Inventory) Len() int {
	return len(i.hosts)
}
