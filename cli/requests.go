package cli

import (
	"net/http"
	"os"

	"github.com/spf13/cast"

	"github.com/lafkit/laf/family"
	"github.com/lafkit/laf/request"
)

// makeRequests fans the parsed command line out into requests, one per
// merged input object. Every request of an invocation shares one transaction
// id, taken from the LAF-TX-ID environment when set.
func makeRequests(loneName string, cfg *family.Config, cl *CommandLine) []*request.Request {
	txid := os.Getenv("LAF-TX-ID")
	if txid == "" {
		txid = request.NewID()
	}

	// A '-' primary key is a stub: each object carries its own key in _id.
	stub := cl.PK == "" || cl.PK == "-"

	base := request.Request{
		Lone: loneName,
		Verb: cl.Verb,
		TxID: txid,
		OBO:  cl.Options.OBO,
		Role: cl.Options.Role,
		CM:   cl.Options.CM,
		Mode: request.Mode(cfg.Mode),
	}

	if cl.Input == nil {
		req := base
		if !stub {
			req.PK = cl.PK
			req.Path = cl.Path
			req.Body = cl.Body
		}
		return []*request.Request{request.New(req)}
	}

	reqs := make([]*request.Request, 0, len(cl.Input))
	for _, entry := range cl.Input {
		req := base
		req.Obj = entry
		req.Path = cl.Path
		req.Body = cl.Body
		if stub {
			if id, ok := entry["_id"]; ok {
				req.PK = cast.ToString(id)
			}
		} else {
			req.PK = cl.PK
		}
		reqs = append(reqs, request.New(req))
	}

	return reqs
}

// verbMethod maps a verb to its HTTP method: create is PUT with a primary
// key and POST without, update is PUT, custom verbs are POST.
func verbMethod(verb, pk string) string {
	switch verb {
	case "get":
		return http.MethodGet
	case "delete":
		return http.MethodDelete
	case "create":
		if pk != "" {
			return http.MethodPut
		}
		return http.MethodPost
	case "update":
		return http.MethodPut
	case "":
		return http.MethodGet
	default:
		return http.MethodPost
	}
}
