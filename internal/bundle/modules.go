package bundle

import (
	"embed"
	"io/fs"
)

//go:embed modules
var embedded embed.FS

// EntryModule is appended after every other module.
const EntryModule = "entry.sh"

// CanonicalModules is the fixed order library modules are emitted in.
var CanonicalModules = []string{
	"lib/common.sh",
	"lib/log.sh",
	"lib/detect.sh",
	"lib/provider.sh",
	"lib/kubeadm.sh",
	"lib/vip.sh",
	"lib/upgrade.sh",
}

// Subcommand dependency sets.
var subcommandModules = map[string][]string{
	"deploy": {
		"lib/common.sh",
		"lib/log.sh",
		"lib/detect.sh",
		"lib/provider.sh",
		"lib/kubeadm.sh",
		"lib/vip.sh",
	},
	"upgrade": {
		"lib/common.sh",
		"lib/log.sh",
		"lib/detect.sh",
		"lib/provider.sh",
		"lib/upgrade.sh",
	},
}

// Subcommands returns the names with a dependency set, sorted.
func Subcommands() []string {
	return []string{"deploy", "upgrade"}
}

// Source returns the embedded module tree rooted at modules/.
func Source() fs.FS {
	sub, err := fs.Sub(embedded, "modules")
	if err != nil {
		panic(err)
	}
	return sub
}
