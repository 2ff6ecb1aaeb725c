package openapi

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Spec is one loaded spec file of a lone, ready to compile into operations.
type Spec struct {
	Family  string
	Lone    string
	Version string
	File    string

	dir      string
	doc      map[string]any
	res      *resolver
	compiler *jsonschema.Compiler
}

// Load loads the latest spec of a lone under basedir.
func Load(basedir, family, lone string) (*Spec, error) {
	name, err := LatestFile(basedir, family, lone)
	if err != nil {
		return nil, err
	}
	return LoadFile(Dir(basedir), family, name)
}

// LoadFile loads one spec file by name from the openapi directory.
func LoadFile(dir, family, name string) (*Spec, error) {
	sf, ok := parseSpecName(name)
	if !ok {
		return nil, fmt.Errorf("openapi: %q is not a spec file name", name)
	}

	doc, err := loadDocument(filepath.Join(dir, name))
	if err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	compiler.DefaultDraft(jsonschema.Draft4)
	if err := compiler.AddResource(fileURL(dir, name), doc); err != nil {
		return nil, fmt.Errorf("openapi: %s: %w", name, err)
	}

	// Register sibling spec files so cross-file $refs compile without a
	// filesystem loader.
	if entries, err := os.ReadDir(dir); err == nil {
		for _, entry := range entries {
			sibling := entry.Name()
			if sibling == name || entry.IsDir() {
				continue
			}
			if _, ok := parseSpecName(sibling); !ok {
				continue
			}
			siblingDoc, err := loadDocument(filepath.Join(dir, sibling))
			if err != nil {
				return nil, err
			}
			if err := compiler.AddResource(fileURL(dir, sibling), siblingDoc); err != nil {
				return nil, fmt.Errorf("openapi: %s: %w", sibling, err)
			}
		}
	}

	spec := &Spec{
		Family:   family,
		Lone:     sf.lone,
		Version:  sf.version,
		File:     name,
		dir:      dir,
		doc:      doc,
		res:      newResolver(dir, doc),
		compiler: compiler,
	}

	return spec, nil
}

// MajorVersion returns the major component of the spec version.
func (s *Spec) MajorVersion() string {
	major, _, _ := strings.Cut(s.Version, ".")
	return major
}

// MediaTypes returns the media types the lone serves, collected from the
// content keys of the shared Ok_all, Ok and Created response components.
func (s *Spec) MediaTypes() []string {
	responses, _ := walk(s.doc, "components", "responses").(map[string]any)

	set := make(map[string]bool)
	for _, name := range []string{"Ok_all", "Ok", "Created"} {
		content, _ := walk(responses, name, "content").(map[string]any)
		for mediaType := range content {
			set[mediaType] = true
		}
	}

	mediaTypes := make([]string, 0, len(set))
	for mediaType := range set {
		mediaTypes = append(mediaTypes, mediaType)
	}
	sort.Strings(mediaTypes)

	return mediaTypes
}

// SchemaNames returns the names under components/schemas, sorted. The remote
// client uses them to tell schema-named sub-resource path parts from free
// values when joining URLs.
func (s *Spec) SchemaNames() []string {
	schemas, _ := walk(s.doc, "components", "schemas").(map[string]any)

	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Paths returns the path templates declared by the spec, sorted.
func (s *Spec) Paths() []string {
	paths, _ := s.doc["paths"].(map[string]any)

	templates := make([]string, 0, len(paths))
	for path := range paths {
		templates = append(templates, path)
	}
	sort.Strings(templates)

	return templates
}

// walk descends nested objects by key, returning nil when any step is
// missing.
func walk(node any, keys ...string) any {
	for _, key := range keys {
		obj, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = obj[key]
	}
	return node
}

func fileURL(dir, name string) string {
	return "file://" + filepath.ToSlash(dir) + "/" + name
}
