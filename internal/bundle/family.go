package bundle

import (
	"fmt"
	"slices"
	"strings"
)

// Family is a Linux distribution family with its own distro module.
type Family string

const (
	FamilyDebian Family = "debian"
	FamilyRHEL   Family = "rhel"
	FamilySUSE   Family = "suse"
	FamilyArch   Family = "arch"
	FamilyAlpine Family = "alpine"
)

// Families lists every supported family in bundle order.
var Families = []Family{FamilyDebian, FamilyRHEL, FamilySUSE, FamilyArch, FamilyAlpine}

var familyByID = map[string]Family{
	"ubuntu":              FamilyDebian,
	"debian":              FamilyDebian,
	"raspbian":            FamilyDebian,
	"linuxmint":           FamilyDebian,
	"pop":                 FamilyDebian,
	"rhel":                FamilyRHEL,
	"centos":              FamilyRHEL,
	"rocky":               FamilyRHEL,
	"almalinux":           FamilyRHEL,
	"fedora":              FamilyRHEL,
	"ol":                  FamilyRHEL,
	"amzn":                FamilyRHEL,
	"opensuse":            FamilySUSE,
	"opensuse-leap":       FamilySUSE,
	"opensuse-tumbleweed": FamilySUSE,
	"sles":                FamilySUSE,
	"suse":                FamilySUSE,
	"arch":                FamilyArch,
	"manjaro":             FamilyArch,
	"endeavouros":         FamilyArch,
	"alpine":              FamilyAlpine,
}

// FamilyFor maps the ID and ID_LIKE fields of /etc/os-release to a family.
// ID wins over ID_LIKE; ID_LIKE entries are tried in order.
func FamilyFor(id, idLike string) (Family, error) {
	candidates := append([]string{id}, strings.Fields(idLike)...)
	for _, c := range candidates {
		c = strings.ToLower(strings.Trim(c, `"'`))
		if f, ok := familyByID[c]; ok {
			return f, nil
		}
		if strings.HasPrefix(c, "opensuse") {
			return FamilySUSE, nil
		}
	}
	return "", fmt.Errorf("%w: ID=%q ID_LIKE=%q", ErrUnsupportedDistro, id, idLike)
}

// ParseFamily validates a family name given on the command line.
func ParseFamily(s string) (Family, error) {
	f := Family(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(Families, f) {
		return "", fmt.Errorf("%w: %q", ErrUnknownFamily, s)
	}
	return f, nil
}

// ParseOSRelease extracts ID and ID_LIKE from /etc/os-release content.
func ParseOSRelease(content string) (id, idLike string) {
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"'`)
		switch key {
		case "ID":
			id = value
		case "ID_LIKE":
			idLike = value
		}
	}
	return id, idLike
}

func (f Family) modulePath() string {
	return "distro/" + string(f) + ".sh"
}
