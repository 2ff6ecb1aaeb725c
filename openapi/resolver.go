package openapi

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// resolver walks $ref pointers for spec navigation. Local refs (#/...)
// resolve against the owning document; refs with a file part load the
// sibling spec file on demand. Loaded documents are cached so repeated
// resolution during route compilation stays cheap.
type resolver struct {
	dir  string
	root map[string]any
	docs map[string]map[string]any
}

func newResolver(dir string, root map[string]any) *resolver {
	return &resolver{
		dir:  dir,
		root: root,
		docs: make(map[string]map[string]any),
	}
}

// loadDocument reads and decodes one spec file with the JSON decoder the
// schema compiler expects, so the same decoded form serves navigation and
// validation.
func loadDocument(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("openapi: %w", err)
	}
	defer f.Close()

	raw, err := jsonschema.UnmarshalJSON(f)
	if err != nil {
		return nil, fmt.Errorf("openapi: %s: %w", path, err)
	}

	doc, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("openapi: %s: document is not an object", path)
	}

	return doc, nil
}

// resolve follows one $ref and returns the referenced fragment.
func (r *resolver) resolve(ref string) (map[string]any, error) {
	file, pointer, found := strings.Cut(ref, "#")
	if !found {
		return nil, fmt.Errorf("openapi: unsupported $ref %q", ref)
	}

	doc := r.root
	if file != "" {
		cached, ok := r.docs[file]
		if !ok {
			loaded, err := loadDocument(filepath.Join(r.dir, file))
			if err != nil {
				return nil, err
			}
			r.docs[file] = loaded
			cached = loaded
		}
		doc = cached
	}

	node := any(doc)
	for _, token := range strings.Split(strings.TrimPrefix(pointer, "/"), "/") {
		token = strings.ReplaceAll(strings.ReplaceAll(token, "~1", "/"), "~0", "~")
		obj, ok := node.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("openapi: $ref %q: %q is not an object", ref, token)
		}
		node, ok = obj[token]
		if !ok {
			return nil, fmt.Errorf("openapi: $ref %q not found", ref)
		}
	}

	fragment, ok := node.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("openapi: $ref %q is not an object", ref)
	}

	return fragment, nil
}

// deref resolves a node if it is a $ref wrapper, otherwise returns it as is.
func (r *resolver) deref(node map[string]any) (map[string]any, error) {
	ref, ok := node["$ref"].(string)
	if !ok {
		return node, nil
	}
	return r.resolve(ref)
}

// parameterType resolves the OpenAPI type of a parameter, chasing schema
// $refs until a type is found.
func (r *resolver) parameterType(param map[string]any) (string, string, error) {
	param, err := r.deref(param)
	if err != nil {
		return "", "", err
	}

	name, _ := param["name"].(string)

	node, _ := param["schema"].(map[string]any)
	for node != nil {
		if typ, ok := node["type"].(string); ok {
			return name, typ, nil
		}
		ref, ok := node["$ref"].(string)
		if !ok {
			break
		}
		node, err = r.resolve(ref)
		if err != nil {
			return "", "", err
		}
	}

	return name, "", nil
}
