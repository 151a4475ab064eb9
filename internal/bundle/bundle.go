package bundle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
)

const header = "#!/usr/bin/env bash\nset -euo pipefail\n"

// Bundle is one generated script. It is never mutated after Build returns.
type Bundle struct {
	Content  []byte
	Modules  []string
	Checksum string
}

// Builder assembles bundles from a module source tree.
type Builder struct {
	source fs.FS
}

// NewBuilder returns a Builder over src. A nil src uses the embedded modules.
func NewBuilder(src fs.FS) *Builder {
	if src == nil {
		src = Source()
	}
	return &Builder{source: src}
}

// Build produces the bundle for the given subcommands and families. Every
// library module any subcommand needs is emitted once, in canonical order,
// followed by the distro modules in [Families] order and the entry script.
func (b *Builder) Build(subcommands []string, families []Family) (*Bundle, error) {
	if len(subcommands) == 0 {
		return nil, fmt.Errorf("%w: none given", ErrUnknownSubcommand)
	}

	needed := make(map[string]bool)
	for _, sub := range subcommands {
		deps, ok := subcommandModules[sub]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSubcommand, sub)
		}
		for _, d := range deps {
			needed[d] = true
		}
	}
	for _, f := range families {
		if !slices.Contains(Families, f) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, f)
		}
	}

	var order []string
	for _, m := range CanonicalModules {
		if needed[m] {
			order = append(order, m)
		}
	}
	for _, f := range Families {
		if slices.Contains(families, f) {
			order = append(order, f.modulePath())
		}
	}
	order = append(order, EntryModule)

	var buf bytes.Buffer
	buf.WriteString(header)
	for _, path := range order {
		body, err := fs.ReadFile(b.source, path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, path)
			}
			return nil, fmt.Errorf("failed to read module %s: %w", path, err)
		}
		fmt.Fprintf(&buf, "\n# === %s ===\n", path)
		buf.Write(body)
		if len(body) > 0 && body[len(body)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}

	sum := sha256.Sum256(buf.Bytes())
	return &Bundle{
		Content:  buf.Bytes(),
		Modules:  order,
		Checksum: hex.EncodeToString(sum[:]),
	}, nil
}

// WriteFile writes the bundle to path with mode 0755.
func (b *Bundle) WriteFile(path string) error {
	if err := os.WriteFile(path, b.Content, 0o755); err != nil { //nolint:gosec // executable script
		return fmt.Errorf("failed to write bundle: %w", err)
	}
	return nil
}

// ShortChecksum returns the first 12 hex characters of the checksum.
func (b *Bundle) ShortChecksum() string {
	if len(b.Checksum) < 12 {
		return b.Checksum
	}
	return b.Checksum[:12]
}
