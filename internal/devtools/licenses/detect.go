package licenses

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Unknown is reported for modules whose license text is not recognised
// or missing.
const Unknown = "unknown"

// knownLicenses maps keyword patterns to license names. Earlier entries
// win, so the more specific GPL variants come first.
var knownLicenses = []struct {
	keyword string
	name    string
}{
	{"GNU AFFERO", "agpl"},
	{"AGPL", "agpl"},
	{"GNU LESSER", "lgpl"},
	{"LGPL", "lgpl"},
	{"GNU GENERAL PUBLIC", "gpl"},
	{"GPL", "gpl"},
	{"MOZILLA PUBLIC", "mpl-2.0"},
	{"APACHE LICENSE", "apache-2.0"},
	{"UNLICENSE", "unlicense"},
	{"THIS IS FREE AND UNENCUMBERED SOFTWARE", "unlicense"},
	{"ISC LICENSE", "isc"},
	{"MIT LICENSE", "mit"},
	{"PERMISSION IS HEREBY GRANTED, FREE OF CHARGE", "mit"},
	{"NEITHER THE NAME OF", "bsd-3-clause"},
	{"REDISTRIBUTION AND USE IN SOURCE AND BINARY FORMS", "bsd-2-clause"},
	{"PERMISSION TO USE, COPY, MODIFY, AND/OR DISTRIBUTE", "isc"},
}

// licenseFileNames lists the common license file names to look for.
var licenseFileNames = []string{
	"LICENSE",
	"LICENSE.md",
	"LICENSE.txt",
	"LICENCE",
	"LICENCE.md",
	"LICENCE.txt",
	"COPYING",
	"COPYING.md",
	"COPYING.txt",
}

// Identify classifies license text by keyword matching.
func Identify(content string) string {
	upper := strings.Join(strings.Fields(strings.ToUpper(content)), " ")
	for _, kl := range knownLicenses {
		if strings.Contains(upper, kl.keyword) {
			return kl.name
		}
	}
	return Unknown
}

// DetectDir identifies the license of the module extracted at dir from the
// first license file found.
func DetectDir(dir string) (string, error) {
	for _, name := range licenseFileNames {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("read %s: %w", name, err)
		}
		return Identify(string(data)), nil
	}
	return Unknown, nil
}
