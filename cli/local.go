package cli

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/lafkit/laf/family"
	"github.com/lafkit/laf/lone"
	"github.com/lafkit/laf/openapi"
	"github.com/lafkit/laf/request"
	"github.com/lafkit/laf/worker"
)

// pathTemplate rebuilds the spec path template a request addresses. A custom
// verb is the ':verb' form of the collection path; sub-resource paths
// alternate schema-named literals with their value variables, '=' parts
// become the schema's _keys variable.
func pathTemplate(loneName, verb, pk, path string, schemaNames []string) (string, map[string]string, error) {
	urlvars := make(map[string]string)
	template := "/" + loneName

	if !httpVerbs[verb] && verb != "" {
		return template + ":" + verb, urlvars, nil
	}
	if pk != "" {
		template += "/{primary_key}"
		urlvars["primary_key"] = pk
	}
	if pk == "" || path == "" {
		return template, urlvars, nil
	}

	names := make(map[string]bool, len(schemaNames))
	for _, name := range schemaNames {
		names[name] = true
	}

	section := ""
	keyed := false
	for _, part := range strings.Split(strings.TrimLeft(path, "/"), "/") {
		switch {
		case names[part]:
			template += "/" + part
			section = part
			keyed = false
		case section == "":
			return "", nil, fmt.Errorf("Wrong request format %s", path)
		case strings.Contains(part, "="):
			template += "/{" + section + "_keys}"
			urlvars[section+"_keys"] = part
			keyed = true
		case keyed:
			urlvars[section+"_keys"] += "/" + part
		default:
			template += "/{" + section + "}"
			urlvars[section] = part
		}
	}

	return template, urlvars, nil
}

// findOperation resolves a (template, method) pair against the spec.
func findOperation(spec *openapi.Spec, template, method string) (*openapi.Operation, error) {
	ops, err := spec.Operations()
	if err != nil {
		return nil, err
	}
	for _, op := range ops {
		if op.Path == template && op.Method == method {
			return op, nil
		}
	}
	return nil, fmt.Errorf("Wrong command request format %s", template)
}

// runLocal validates and executes the requests in-process: the same schema
// and change-management gates the gateway applies, then the worker state
// machine with the handler table of this binary.
func (r *Runner) runLocal(ctx context.Context, cfg *family.Config, reqs []*request.Request, debug bool) int {
	log := r.localLogger(debug)

	spec, err := openapi.Load(cfg.BaseDir, cfg.Family, r.Lone.Name())
	if err != nil {
		r.printYAML(map[string]any{"_error": err.Error()})
		return 1
	}
	schemaNames := spec.SchemaNames()

	procOpts := []worker.Option{worker.WithLogger(log)}
	if r.Journal != nil {
		procOpts = append(procOpts, worker.WithJournal(r.Journal))
	}
	proc := worker.NewProcessor(cfg, lone.NewRegistry(r.Lone), procOpts...)

	for _, req := range reqs {
		template, urlvars, err := pathTemplate(req.Lone, req.Verb, req.PK, req.Path, schemaNames)
		if err != nil {
			r.printYAML(r.requestError(err.Error(), req))
			return 1
		}
		method := verbMethod(req.Verb, req.PK)
		op, err := findOperation(spec, template, method)
		if err != nil {
			r.printYAML(r.requestError(err.Error(), req))
			return 1
		}

		obj := make(map[string]any)
		final := make(map[string]any)

		if method == http.MethodGet && req.PK == "" && len(req.Obj) > 0 {
			query := make(map[string]any, len(req.Obj))
			for key, val := range req.Obj {
				decoded, err := openapi.QueryValue(cast.ToString(val), op.ParamTypes[key])
				if err != nil {
					r.printYAML(r.requestError(
						fmt.Sprintf("Invalid query value:%v for key:%s", val, key), req))
					return 1
				}
				query[key] = decoded
				final[key] = decoded
			}
			obj["query"] = query
		}
		if len(urlvars) > 0 {
			pathVars := make(map[string]any, len(urlvars))
			for key, raw := range urlvars {
				decoded, err := openapi.PathValue(raw, op.ParamTypes[key])
				if err != nil {
					r.printYAML(r.requestError(
						fmt.Sprintf("Invalid path value:%s for key:%s", raw, key), req))
					return 1
				}
				pathVars[key] = decoded
				final[key] = decoded
			}
			obj["path"] = pathVars
		}
		if req.Body != nil && method != http.MethodGet {
			obj["body"] = req.Body
			final["body"] = req.Body
		}

		required, err := family.CMRequired(cfg.BaseDir, req.Lone, op.ID)
		if err != nil {
			r.printYAML(r.requestError("Error loading cm-config.yml file", req))
			return 1
		}
		if required && req.CM == "" {
			r.printYAML(r.requestError("Please provide a valid change management ticket", req))
			return 1
		}

		if err := op.ValidateInput(obj); err != nil {
			r.printYAML(r.requestError(openapi.ErrorDetail(err), req))
			return 1
		}

		delete(final, "primary_key")
		req.Obj = final
		req.Verb = strings.ToLower(op.ID)

		result := proc.Process(ctx, &request.Envelope{Request: req})

		resp := result.Resp
		if result.Code != http.StatusOK && result.Code != http.StatusNoContent {
			resp = r.requestError(result.Resp, req)
		}
		if resp != nil {
			r.printYAML(resp)
		}
	}

	return 0
}

// requestError builds the error envelope of one failed request.
func (r *Runner) requestError(why any, req *request.Request) map[string]any {
	return errorEnvelope(why, req.Lone, req.Verb, req.PK, req.Obj, req.User, req.Host)
}

// errorEnvelope renders a failure in the contextual _error shape, or the
// bare form when no verb is known.
func errorEnvelope(why any, loneName, verb, pk string, obj any, user, host string) map[string]any {
	if verb == "" {
		return map[string]any{"_error": why}
	}

	when := time.Now().UTC().Format("2006-01-02 15:04:05") + " GMT"
	return map[string]any{
		"_error": map[string]any{
			"why":   why,
			"who":   user,
			"where": loneName,
			"when":  when,
			"verb":  verb,
			"pk":    pk,
			"in":    obj,
			"from":  host,
		},
	}
}
