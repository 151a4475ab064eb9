// Package config defines the cluster file and the tunable timeouts used by
// the deploy and upgrade commands.
//
// A cluster file describes the node lists, SSH settings, HA parameters,
// Kubernetes options and artifact targets of one cluster. Command-line flags
// override the file field by field; the merged [Config] is validated before
// any node is contacted. [Timeouts] is loaded from KUBEHOP_* environment
// variables.
package config
