package config

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/imamik/kubehop/internal/node"
)

// ValidCRIs lists the container runtimes the bundle can install.
var ValidCRIs = map[string]bool{
	CRIContainerd: true,
	CRICrio:       true,
}

// ValidHostKeyChecks lists the accepted host key checking modes.
var ValidHostKeyChecks = map[string]bool{
	HostKeyCheckYes:       true,
	HostKeyCheckNo:        true,
	HostKeyCheckAcceptNew: true,
}

// Validate checks the configuration for errors that can be caught before
// any node is contacted.
func (c *Config) Validate() error {
	topo, err := c.Topology()
	if err != nil {
		return err
	}

	if err := c.validateSSH(); err != nil {
		return fmt.Errorf("ssh validation failed: %w", err)
	}
	if err := c.validateKubernetes(); err != nil {
		return fmt.Errorf("kubernetes validation failed: %w", err)
	}
	if err := c.validateHA(topo); err != nil {
		return fmt.Errorf("ha validation failed: %w", err)
	}
	if c.Remote.Timeout < 0 || c.Remote.PollInterval < 0 {
		return fmt.Errorf("remote timeout and poll interval must not be negative")
	}
	return nil
}

// Topology parses and validates the node lists.
func (c *Config) Topology() (node.Topology, error) {
	return node.ParseTopology(c.ControlPlanes, c.Workers, c.Defaults())
}

// Defaults returns the address defaults derived from the SSH settings.
func (c *Config) Defaults() node.Defaults {
	return node.Defaults{User: c.SSH.User, Port: c.SSH.Port}
}

func (c *Config) validateSSH() error {
	if c.SSH.Port < 1 || c.SSH.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.SSH.Port)
	}
	if !ValidHostKeyChecks[c.SSH.HostKeyCheck] {
		return fmt.Errorf("invalid hostKeyCheck %q: must be one of %v", c.SSH.HostKeyCheck, getMapKeys(ValidHostKeyChecks))
	}
	if c.SSH.Password != "" && c.SSH.PasswordFile != "" {
		return fmt.Errorf("password and passwordFile are mutually exclusive")
	}
	return nil
}

func (c *Config) validateKubernetes() error {
	if !ValidCRIs[c.Kubernetes.CRI] {
		return fmt.Errorf("invalid cri %q: must be one of %v", c.Kubernetes.CRI, getMapKeys(ValidCRIs))
	}
	if c.Kubernetes.Version != "" {
		if _, err := semver.NewVersion(c.Kubernetes.Version); err != nil {
			return fmt.Errorf("invalid version %q: %w", c.Kubernetes.Version, err)
		}
	}
	if _, _, err := net.ParseCIDR(c.Kubernetes.PodCIDR); err != nil {
		return fmt.Errorf("invalid podCIDR %q: %w", c.Kubernetes.PodCIDR, err)
	}
	return nil
}

// ValidateDeploy checks what only a deployment needs on top of Validate:
// several control planes can only be bootstrapped behind a virtual IP.
// Upgrades walk an existing cluster and never touch the VIP.
func (c *Config) ValidateDeploy() error {
	if err := c.Validate(); err != nil {
		return err
	}
	topo, err := c.Topology()
	if err != nil {
		return err
	}
	if topo.IsHA() && !c.HA.Enabled() {
		return fmt.Errorf("ha validation failed: %d control planes require ha.vip", len(topo.ControlPlanes))
	}
	return nil
}

func (c *Config) validateHA(topo node.Topology) error {
	if !c.HA.Enabled() {
		return nil
	}

	ip := net.ParseIP(c.HA.VIP)
	if ip == nil {
		return fmt.Errorf("invalid vip %q: not an IP address", c.HA.VIP)
	}
	for _, m := range topo.Ordered() {
		if other := net.ParseIP(m.Address.Host()); other != nil && other.Equal(ip) {
			return fmt.Errorf("vip %s is already the address of node %s", c.HA.VIP, m.Address)
		}
	}
	if c.HA.Interface == "" || strings.ContainsAny(c.HA.Interface, " /\t") {
		return fmt.Errorf("invalid interface %q", c.HA.Interface)
	}
	return nil
}

// getMapKeys returns the keys of a string-bool map, sorted.
func getMapKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
