package config

import "time"

// Supported container runtimes.
const (
	CRIContainerd = "containerd"
	CRICrio       = "crio"
)

// Host key checking modes, named after OpenSSH's StrictHostKeyChecking.
const (
	HostKeyCheckYes       = "yes"
	HostKeyCheckNo        = "no"
	HostKeyCheckAcceptNew = "accept-new"
)

// Defaults applied by LoadFile and Default.
const (
	DefaultSSHUser      = "root"
	DefaultSSHPort      = 22
	DefaultCRI          = CRIContainerd
	DefaultPodCIDR      = "10.244.0.0/16"
	DefaultHAInterface  = "eth0"
	DefaultHostKeyCheck = HostKeyCheckAcceptNew
)

// KubeAPIPort is the port the API server listens on.
const KubeAPIPort = 6443

// Config is the cluster file.
type Config struct {
	ControlPlanes []string `mapstructure:"controlPlanes" yaml:"controlPlanes"`
	Workers       []string `mapstructure:"workers" yaml:"workers"`

	SSH        SSHConfig        `mapstructure:"ssh" yaml:"ssh"`
	HA         HAConfig         `mapstructure:"ha" yaml:"ha"`
	Kubernetes KubernetesConfig `mapstructure:"kubernetes" yaml:"kubernetes"`
	Remote     RemoteConfig     `mapstructure:"remote" yaml:"remote"`
	Artifacts  ArtifactsConfig  `mapstructure:"artifacts" yaml:"artifacts"`
}

// SSHConfig holds connection settings shared by every node.
type SSHConfig struct {
	User string `mapstructure:"user" yaml:"user"`
	Port int    `mapstructure:"port" yaml:"port"`
	// Key is a private key file. Empty means auto-discovery.
	Key string `mapstructure:"key" yaml:"key"`
	// PasswordFile holds the login password. "-" prompts on the terminal.
	PasswordFile string `mapstructure:"passwordFile" yaml:"passwordFile"`
	// KnownHosts seeds the session known_hosts file (path or s3:// URI).
	KnownHosts string `mapstructure:"knownHosts" yaml:"knownHosts"`
	// PersistKnownHosts receives the known_hosts file when the run ends.
	PersistKnownHosts string `mapstructure:"persistKnownHosts" yaml:"persistKnownHosts"`
	HostKeyCheck      string `mapstructure:"hostKeyCheck" yaml:"hostKeyCheck"`

	// Password is never read from the file; it comes from a flag, the
	// environment or PasswordFile.
	Password string `mapstructure:"-" yaml:"-"`
}

// HAConfig configures the control plane virtual IP.
type HAConfig struct {
	VIP       string `mapstructure:"vip" yaml:"vip"`
	Interface string `mapstructure:"interface" yaml:"interface"`
}

// Enabled reports whether a virtual IP was requested.
func (h HAConfig) Enabled() bool { return h.VIP != "" }

// KubernetesConfig holds cluster-wide Kubernetes options.
type KubernetesConfig struct {
	Version string `mapstructure:"version" yaml:"version"`
	CRI     string `mapstructure:"cri" yaml:"cri"`
	PodCIDR string `mapstructure:"podCIDR" yaml:"podCIDR"`
}

// RemoteConfig tunes the remote job engine. Zero values fall back to
// Timeouts.
type RemoteConfig struct {
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PollInterval time.Duration `mapstructure:"pollInterval" yaml:"pollInterval"`
	KeepLogs     bool          `mapstructure:"keepLogs" yaml:"keepLogs"`
}

// ArtifactsConfig configures where run artifacts are written.
type ArtifactsConfig struct {
	// LogArchive receives logs of failed jobs (path or s3:// URI prefix).
	LogArchive string   `mapstructure:"logArchive" yaml:"logArchive"`
	S3         S3Config `mapstructure:"s3" yaml:"s3"`
}

// S3Config points the artifact store at an S3-compatible endpoint.
type S3Config struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	Region   string `mapstructure:"region" yaml:"region"`
}

// Default returns a Config with every default applied and no nodes.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.SSH.User == "" {
		c.SSH.User = DefaultSSHUser
	}
	if c.SSH.Port == 0 {
		c.SSH.Port = DefaultSSHPort
	}
	if c.SSH.HostKeyCheck == "" {
		c.SSH.HostKeyCheck = DefaultHostKeyCheck
	}
	if c.Kubernetes.CRI == "" {
		c.Kubernetes.CRI = DefaultCRI
	}
	if c.Kubernetes.PodCIDR == "" {
		c.Kubernetes.PodCIDR = DefaultPodCIDR
	}
	if c.HA.VIP != "" && c.HA.Interface == "" {
		c.HA.Interface = DefaultHAInterface
	}
}
