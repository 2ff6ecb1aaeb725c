package openapi

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// pathVarRegexp matches {name} variables in an OpenAPI path template.
var pathVarRegexp = regexp.MustCompile(`\{([^}]*)\}`)

// routeMacros maps OpenAPI parameter types to mux route macros. Objects
// travel as simple-style strings and are decoded after routing.
var routeMacros = map[string]string{
	"integer": "int",
	"number":  "float",
	"string":  "string",
	"object":  "string",
}

// Parameter is one resolved path or query parameter of an operation.
type Parameter struct {
	Name     string
	Type     string
	Required bool
	Schema   any
}

// Operation is one compiled (path, method) pair of a spec: everything the
// gateway needs to route, decode and validate a request against it.
type Operation struct {
	ID      string
	Method  string
	Path    string
	Lone    string
	Version string

	// RouteTemplate is the mux template derived from Path, with each
	// variable typed by its parameter schema.
	RouteTemplate string

	// ParamTypes maps every path and query parameter name to its OpenAPI
	// type, for the style codecs.
	ParamTypes map[string]string

	PathParams  []Parameter
	QueryParams []Parameter

	// HasBody reports whether the operation declares a request body;
	// BodyRequired whether the declaration marks it required.
	HasBody      bool
	BodyRequired bool

	input    *jsonschema.Schema
	response *jsonschema.Schema
}

// Operations compiles every (path, method) pair of the spec.
func (s *Spec) Operations() ([]*Operation, error) {
	paths, _ := s.doc["paths"].(map[string]any)

	var ops []*Operation
	for _, path := range s.Paths() {
		item, ok := paths[path].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("openapi: %s: path %q is not an object", s.File, path)
		}
		for method, rawAction := range item {
			action, ok := rawAction.(map[string]any)
			if !ok {
				continue
			}
			op, err := s.compileOperation(path, method, action)
			if err != nil {
				return nil, fmt.Errorf("openapi: %s: %s %s: %w", s.File, method, path, err)
			}
			ops = append(ops, op)
		}
	}

	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Path != ops[j].Path {
			return ops[i].Path < ops[j].Path
		}
		return ops[i].Method < ops[j].Method
	})

	return ops, nil
}

func (s *Spec) compileOperation(path, method string, action map[string]any) (*Operation, error) {
	op := &Operation{
		Method:     strings.ToUpper(method),
		Path:       path,
		Lone:       s.Lone,
		Version:    s.Version,
		ParamTypes: make(map[string]string),
	}
	op.ID, _ = action["operationId"].(string)
	if op.ID == "" {
		return nil, errors.New("missing operationId")
	}

	params, _ := action["parameters"].([]any)
	for _, rawParam := range params {
		param, ok := rawParam.(map[string]any)
		if !ok {
			continue
		}

		name, typ, err := s.res.parameterType(param)
		if err != nil {
			return nil, err
		}
		op.ParamTypes[name] = typ

		resolved, err := s.res.deref(param)
		if err != nil {
			return nil, err
		}
		required, _ := resolved["required"].(bool)
		compiled := Parameter{
			Name:     name,
			Type:     typ,
			Required: required,
			Schema:   resolved["schema"],
		}

		switch resolved["in"] {
		case "path":
			op.PathParams = append(op.PathParams, compiled)
		case "query":
			op.QueryParams = append(op.QueryParams, compiled)
		}
	}

	op.RouteTemplate = pathVarRegexp.ReplaceAllStringFunc(path, func(match string) string {
		name := match[1 : len(match)-1]
		if macro, ok := routeMacros[op.ParamTypes[name]]; ok {
			return "{" + name + ":" + macro + "}"
		}
		return "{" + name + "}"
	})

	body, err := s.res.deref(orEmpty(action["requestBody"]))
	if err != nil {
		return nil, err
	}
	bodyContent, _ := body["content"].(map[string]any)
	op.HasBody = len(bodyContent) > 0
	op.BodyRequired, _ = body["required"].(bool)

	if err := s.compileInputSchema(op, bodyContent); err != nil {
		return nil, err
	}

	responses, _ := action["responses"].(map[string]any)
	if err := s.compileResponseSchema(op, responses); err != nil {
		return nil, err
	}

	return op, nil
}

// compileInputSchema builds and compiles the composite {path, query, body}
// draft-04 schema of one operation. Unknown top-level keys and unknown
// parameters are rejected; each section is required only when it has a
// required member, the body when its declaration says so.
func (s *Spec) compileInputSchema(op *Operation, bodyContent map[string]any) error {
	var required []any

	properties := make(map[string]any)
	if obj, objRequired := parameterObject(op.PathParams); obj != nil {
		properties["path"] = obj
		if objRequired {
			required = append(required, "path")
		}
	}
	if obj, objRequired := parameterObject(op.QueryParams); obj != nil {
		properties["query"] = obj
		if objRequired {
			required = append(required, "query")
		}
	}
	if len(bodyContent) > 0 {
		media, _ := bodyContent[bodyMediaType(bodyContent)].(map[string]any)
		if schema, ok := media["schema"]; ok {
			properties["body"] = schema
			if op.BodyRequired {
				required = append(required, "body")
			}
		}
	}

	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
		"components":           s.doc["components"],
	}
	// draft-04 forbids an empty required array.
	if len(required) > 0 {
		schema["required"] = required
	}

	compiled, err := s.addSchema(op.ID+".input", schema)
	if err != nil {
		return err
	}
	op.input = compiled

	return nil
}

// compileResponseSchema builds the validator over {<status>: payload}
// objects. A response entry without a content schema validates anything,
// but an unlisted status fails.
func (s *Spec) compileResponseSchema(op *Operation, responses map[string]any) error {
	properties := make(map[string]any)
	for code, rawResponse := range responses {
		response, err := s.res.deref(orEmpty(rawResponse))
		if err != nil {
			return err
		}

		properties[code] = map[string]any{}
		content, _ := response["content"].(map[string]any)
		for _, rawMedia := range content {
			media, _ := rawMedia.(map[string]any)
			if schema, ok := media["schema"]; ok {
				properties[code] = schema
				break
			}
		}
	}

	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
		"components":           s.doc["components"],
	}

	compiled, err := s.addSchema(op.ID+".response", schema)
	if err != nil {
		return err
	}
	op.response = compiled

	return nil
}

// addSchema registers a synthetic schema document next to the spec file so
// its relative and local $refs resolve, then compiles it.
func (s *Spec) addSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	url := fileURL(s.dir, s.File+"."+name)
	if err := s.compiler.AddResource(url, schema); err != nil {
		return nil, err
	}
	return s.compiler.Compile(url)
}

// ValidateInput validates the composite {path, query, body} input object.
func (op *Operation) ValidateInput(obj map[string]any) error {
	return op.input.Validate(obj)
}

// ValidateResponse validates a response payload against the schema declared
// for its status code. A status the spec does not declare is itself a
// validation error.
func (op *Operation) ValidateResponse(status int, payload any) error {
	return op.response.Validate(map[string]any{strconv.Itoa(status): payload})
}

// ErrorDetail converts a validation error into the structured form reported
// to callers: the failing message plus the instance location.
func ErrorDetail(err error) map[string]any {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return map[string]any{"errmsg": err.Error()}
	}

	leaf := verr
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}

	return map[string]any{
		"errmsg":      leaf.Error(),
		"schema_path": "/" + strings.Join(leaf.InstanceLocation, "/"),
	}
}

// parameterObject builds the draft-04 object schema for one parameter
// section, reporting whether any member is required.
func parameterObject(params []Parameter) (map[string]any, bool) {
	if len(params) == 0 {
		return nil, false
	}

	properties := make(map[string]any, len(params))
	required := make([]any, 0, len(params))
	for _, param := range params {
		properties[param.Name] = param.Schema
		if param.Required {
			required = append(required, param.Name)
		}
	}

	obj := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		obj["required"] = required
	}

	return obj, len(required) > 0
}

// bodyMediaType picks the media type whose schema validates request bodies:
// plain JSON when declared, else the lexicographically first entry so the
// choice is stable.
func bodyMediaType(content map[string]any) string {
	if _, ok := content["application/json"]; ok {
		return "application/json"
	}

	keys := make([]string, 0, len(content))
	for key := range content {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}

func orEmpty(node any) map[string]any {
	if obj, ok := node.(map[string]any); ok {
		return obj
	}
	return map[string]any{}
}
