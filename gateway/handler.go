package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cast"

	"github.com/lafkit/laf/family"
	"github.com/lafkit/laf/hooks"
	"github.com/lafkit/laf/mux"
	"github.com/lafkit/laf/openapi"
	"github.com/lafkit/laf/request"
)

// serveOperation negotiates the media type and picks the spec version that
// answers it.
func (a *App) serveOperation(set *acceptSet) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		neg, apiErr := negotiate(r)
		if apiErr != nil {
			a.writeError(w, nil, apiErr)
			return
		}

		b := set.byMime[neg.accept]
		if b == nil && neg.wildcard {
			b = set.wildcard
		}
		if b == nil {
			a.writeError(w, neg, newAPIError("Oops. Unrecognizable Accept MIME", http.StatusNotAcceptable))
			return
		}

		resp, code, apiErr := a.process(b, neg, r)
		if apiErr != nil {
			a.log.Info("request failed",
				"lone", b.spec.Lone, "operation", b.op.ID, "code", apiErr.Code, "why", apiErr.Message)
			a.writeError(w, neg, apiErr)
			return
		}
		a.writeResult(w, neg, resp, code)
	})
}

// process runs one request through the pipeline: decode and validate the
// inputs, consult the validation and authorization hooks, dispatch to a
// worker, then shape the result.
func (a *App) process(b *boundOp, neg *negotiated, r *http.Request) (any, int, *APIError) {
	ctx := r.Context()
	id := a.authn(r)
	lone := b.spec.Lone
	rc := reqContext{Lone: lone, Verb: b.op.ID, User: id.User, Host: id.Host}

	obj := make(map[string]any)
	rc.Obj = obj

	if query := r.URL.Query(); len(query) > 0 {
		q := make(map[string]any, len(query))
		for key, vals := range query {
			v, err := openapi.QueryValue(vals[0], b.op.ParamTypes[key])
			if err != nil {
				return nil, 0, rc.fail(
					fmt.Sprintf("Invalid query value:%s for key:%s", vals[0], key),
					http.StatusBadRequest)
			}
			q[key] = v
		}
		obj["query"] = q
	}

	var pk string
	if vars := mux.Vars(r); len(vars) > 0 {
		p := make(map[string]any, len(vars))
		for key, raw := range vars {
			v, err := openapi.PathValue(raw, b.op.ParamTypes[key])
			if err != nil {
				return nil, 0, rc.fail(
					fmt.Sprintf("Invalid path value:%s for key:%s", raw, key),
					http.StatusBadRequest)
			}
			p[key] = v
			if key == "primary_key" {
				pk = cast.ToString(v)
			}
		}
		obj["path"] = p
	}
	rc.PK = pk

	if len(neg.body) > 0 {
		data, err := neg.decode.Decode(neg.body)
		if err != nil {
			return nil, 0, rc.fail("Invalid request body", http.StatusBadRequest)
		}
		if data != nil {
			obj["body"] = data
		}
	}

	cm := r.Header.Get("LAF-CM")
	required, err := family.CMRequired(a.cfg.BaseDir, lone, b.op.ID)
	if err != nil {
		return nil, 0, rc.fail("Error loading cm-config.yml file", http.StatusBadRequest)
	}
	if required && cm == "" {
		return nil, 0, rc.fail("Please provide a valid change management ticket", http.StatusBadRequest)
	}

	if err := b.op.ValidateInput(obj); err != nil {
		return nil, 0, rc.fail(openapi.ErrorDetail(err), http.StatusBadRequest)
	}

	reqData := a.buildReqData(b, r, id, obj, pk, cm)

	if a.validator != nil {
		rewritten, err := a.validator.Validate(ctx, reqData)
		if err != nil {
			return nil, 0, newAPIError("Internal server error", http.StatusInternalServerError)
		}
		if why, ok := rewritten["_error"]; ok {
			return nil, 0, newAPIError(why, http.StatusBadRequest)
		}
		reqData = rewritten
		rc = contextFromReqData(reqData)
	}

	req, apiErr := decodeRequest(reqData)
	if apiErr != nil {
		return nil, 0, apiErr
	}

	auth, apiErr := a.authorize(ctx, req, b.version, rc)
	if apiErr != nil {
		return nil, 0, apiErr
	}

	result, err := a.dispatch.Do(ctx, &request.Envelope{
		Request: req,
		Auth:    auth,
		Version: b.version,
	})
	if err != nil {
		a.log.Error("dispatching to worker", "txid", req.TxID, "error", err)
		return nil, 0, newAPIError("Internal server error", http.StatusInternalServerError)
	}

	resp, code := result.Resp, result.Code
	switch code {
	case http.StatusOK, http.StatusAccepted, http.StatusServiceUnavailable:
	default:
		return nil, 0, rc.fail(resp, code)
	}

	if strings.EqualFold(r.Method, http.MethodDelete) && code == http.StatusOK {
		code = http.StatusNoContent
	}

	if r.URL.Path == "/"+lone && r.Method == http.MethodGet &&
		code != http.StatusServiceUnavailable && b.version == "v3" {
		respMap, ok := resp.(map[string]any)
		if !ok {
			return nil, 0, rc.fail("Response should be dictionary", http.StatusInternalServerError)
		}
		if _, paged := respMap["_elem"]; !paged {
			return nil, 0, rc.fail("Response should be dictionary", http.StatusInternalServerError)
		}
		reqObj, _ := reqData["obj"].(map[string]any)
		resp = paginate(a.collectionURL(r), reqObj, respMap)
	}

	if err := b.op.ValidateResponse(code, resp); err != nil {
		a.log.Info("response validation error", "txid", req.TxID, "error", err)
	}

	return resp, code, nil
}

// buildReqData assembles the wire request map: path variables except the
// primary key and all query variables merge into obj, the body goes under
// obj.body.
func (a *App) buildReqData(b *boundOp, r *http.Request, id Identity, obj map[string]any, pk, cm string) map[string]any {
	inObj := make(map[string]any)

	var urlvars, queryvars map[string]any
	if p, ok := obj["path"].(map[string]any); ok {
		delete(p, "primary_key")
		for k, v := range p {
			inObj[k] = v
		}
		urlvars = p
	}
	if q, ok := obj["query"].(map[string]any); ok {
		for k, v := range q {
			inObj[k] = v
		}
		queryvars = q
	}
	body, hasBody := obj["body"]
	if hasBody {
		inObj["body"] = body
	}

	reqData := map[string]any{
		"lone": b.spec.Lone,
		"verb": strings.ToLower(b.op.ID),
		"pk":   pk,
		"user": id.User,
		"host": id.Host,
		"txid": r.Header.Get("LAF-TX-ID"),
		"role": r.Header.Get("LAF-ROLE"),
		"obo":  r.Header.Get("LAF-OBO"),
		"cm":   cm,
		"obj":  inObj,
	}
	if hasBody {
		reqData["body"] = body
	}
	if urlvars != nil {
		reqData["urlvars"] = urlvars
	}
	if queryvars != nil {
		reqData["queryvars"] = queryvars
	}

	return reqData
}

// decodeRequest turns the (possibly hook-rewritten) request map into a
// Request with a fresh rqid.
func decodeRequest(reqData map[string]any) (*request.Request, *APIError) {
	raw, err := json.Marshal(reqData)
	if err != nil {
		return nil, newAPIError("Internal server error", http.StatusInternalServerError)
	}

	var req request.Request
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return nil, newAPIError("Internal server error", http.StatusInternalServerError)
	}

	return request.New(req), nil
}

func contextFromReqData(reqData map[string]any) reqContext {
	obj, _ := reqData["obj"].(map[string]any)
	return reqContext{
		Lone: cast.ToString(reqData["lone"]),
		Verb: cast.ToString(reqData["verb"]),
		PK:   cast.ToString(reqData["pk"]),
		Obj:  obj,
		User: cast.ToString(reqData["user"]),
		Host: cast.ToString(reqData["host"]),
	}
}

// authorize collects the decisions of the authorization hook: the obo
// decision first when impersonating, then the caller's own. A decision that
// is not authorized fails the request.
func (a *App) authorize(ctx context.Context, req *request.Request, version string, rc reqContext) (map[string]any, *APIError) {
	if a.auth == nil {
		return nil, nil
	}

	auth := make(map[string]any)
	if req.OBO != "" {
		obores, err := a.auth.OBOAuthorize(ctx, req, version)
		if err != nil {
			return nil, authServiceError(err)
		}
		auth["oboauth"] = obores
	}

	res, err := a.auth.Authorize(ctx, req, version)
	if err != nil {
		return nil, authServiceError(err)
	}
	auth["auth"] = res

	if !hooks.Authorized(res) {
		a.log.Info("request not authorized", "txid", req.TxID, "user", req.User)
		return nil, rc.fail(fmt.Sprintf("%v", res), http.StatusInternalServerError)
	}

	return auth, nil
}

func authServiceError(err error) *APIError {
	var serr *hooks.ServiceError
	if errors.As(err, &serr) {
		return newAPIError(serr.Message, serr.Code)
	}
	return newAPIError("Internal server error", http.StatusInternalServerError)
}

// collectionURL is the base of pagination links: the deployment url_prefix
// when configured, the request host otherwise.
func (a *App) collectionURL(r *http.Request) string {
	if prefix := a.cfg.URLPrefix(); prefix != "" {
		return "http://" + prefix + r.URL.Path
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.Path
}

// writeResult encodes a success. A 202 body becomes the task-in-progress
// status with the Location header pointing at the status endpoint.
func (a *App) writeResult(w http.ResponseWriter, neg *negotiated, resp any, code int) {
	if code == http.StatusAccepted {
		location, _ := resp.(string)
		rqid := ""
		if parts := strings.Split(location, "/"); len(parts) > 2 {
			rqid = parts[2]
		}
		resp = map[string]any{"status": "Task in progress " + rqid}
		w.Header().Set("Location", location)
	}

	w.Header().Set("Content-Type", neg.accept)
	if code == http.StatusNoContent {
		w.WriteHeader(code)
		return
	}

	body, err := neg.encode.Encode(resp)
	if err != nil {
		a.writeError(w, neg, newAPIError("Internal server error", http.StatusInternalServerError))
		return
	}
	w.WriteHeader(code)
	w.Write(body)
}

// writeError encodes the error envelope with the negotiated encoder, JSON
// when negotiation itself failed.
func (a *App) writeError(w http.ResponseWriter, neg *negotiated, apiErr *APIError) {
	var encode Codec = jsonCodec{}
	accept := "application/json"
	if neg != nil {
		encode = neg.encode
		accept = neg.accept
	}

	body, err := encode.Encode(apiErr.envelope())
	if err != nil {
		body = []byte(`{"_error": "Internal server error"}`)
	}

	w.Header().Set("Content-Type", accept)
	w.WriteHeader(apiErr.Code)
	if apiErr.Code != http.StatusNoContent {
		w.Write(body)
	}
}

// handleStatus answers /status/<rqid> from the journal.
func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	neg, apiErr := negotiate(r)
	if apiErr != nil {
		a.writeError(w, nil, apiErr)
		return
	}

	if a.status == nil {
		a.writeResult(w, neg, nil, http.StatusOK)
		return
	}

	resp, code, err := a.status.Status(r.Context(), mux.Vars(r)["rqid"])
	if err != nil {
		a.writeError(w, neg, newAPIError("Internal server error", http.StatusInternalServerError))
		return
	}
	a.writeResult(w, neg, resp, code)
}
