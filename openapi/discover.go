package openapi

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoSpec is returned when a lone has no spec file, including when the
// openapi directory itself is absent.
var ErrNoSpec = errors.New("openapi: no spec file")

// Dir returns the openapi spec directory under a family base directory.
func Dir(basedir string) string {
	return filepath.Join(basedir, "apischemas", "openapi")
}

// FamilyPrefix flattens a family name into its spec-file form: slashes
// become underscores.
func FamilyPrefix(family string) string {
	return strings.ReplaceAll(family, "/", "_")
}

// specFile is one discovered spec file name, decomposed.
type specFile struct {
	name    string
	lone    string
	version string
}

// parseSpecName decomposes vnd.<family>.<lone>.v<maj>.<min>.<patch>.
// The family itself may contain dots, so the lone and version are taken
// from the tail.
func parseSpecName(name string) (specFile, bool) {
	parts := strings.Split(name, ".")
	if len(parts) < 5 || parts[0] != "vnd" {
		return specFile{}, false
	}
	if !strings.HasPrefix(parts[len(parts)-3], "v") {
		return specFile{}, false
	}

	return specFile{
		name:    name,
		lone:    parts[len(parts)-4],
		version: strings.TrimPrefix(strings.Join(parts[len(parts)-3:], "."), "v"),
	}, true
}

// listSpecs returns the spec files of one lone, latest first.
func listSpecs(basedir, family, lone string) ([]specFile, error) {
	prefix := fmt.Sprintf("vnd.%s.%s.v", FamilyPrefix(family), lone)

	entries, err := os.ReadDir(Dir(basedir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w for lone %q", ErrNoSpec, lone)
		}
		return nil, fmt.Errorf("openapi: %w", err)
	}

	var specs []specFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		if sf, ok := parseSpecName(entry.Name()); ok {
			specs = append(specs, sf)
		}
	}

	if len(specs) == 0 {
		return nil, fmt.Errorf("%w for lone %q", ErrNoSpec, lone)
	}

	sort.Slice(specs, func(i, j int) bool { return specs[i].name > specs[j].name })

	return specs, nil
}

// Lones returns the lones that have at least one spec file under basedir,
// sorted. A missing openapi directory yields an empty list.
func Lones(basedir, family string) ([]string, error) {
	prefix := "vnd." + FamilyPrefix(family) + "."

	entries, err := os.ReadDir(Dir(basedir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("openapi: %w", err)
	}

	set := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		if sf, ok := parseSpecName(entry.Name()); ok {
			set[sf.lone] = true
		}
	}

	lones := make([]string, 0, len(set))
	for lone := range set {
		lones = append(lones, lone)
	}
	sort.Strings(lones)

	return lones, nil
}

// Files returns every spec file name of the family under basedir, latest
// first. A missing openapi directory yields an empty list.
func Files(basedir, family string) ([]string, error) {
	prefix := "vnd." + FamilyPrefix(family) + "."

	entries, err := os.ReadDir(Dir(basedir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("openapi: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		if _, ok := parseSpecName(entry.Name()); ok {
			files = append(files, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))

	return files, nil
}

// LatestVersion returns the version of the latest spec of a lone, without
// the leading 'v'.
func LatestVersion(basedir, family, lone string) (string, error) {
	specs, err := listSpecs(basedir, family, lone)
	if err != nil {
		return "", err
	}
	return specs[0].version, nil
}

// LatestFile returns the file name of the latest spec of a lone.
func LatestFile(basedir, family, lone string) (string, error) {
	specs, err := listSpecs(basedir, family, lone)
	if err != nil {
		return "", err
	}
	return specs[0].name, nil
}

// AcceptHeader returns the versioned media type of a lone:
// application/vnd.<family>.<lone>.v<version>+json.
func AcceptHeader(family, lone, version string) string {
	return fmt.Sprintf("application/vnd.%s.%s.v%s+json", FamilyPrefix(family), lone, version)
}
