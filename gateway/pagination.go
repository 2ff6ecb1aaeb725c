package gateway

import (
	"github.com/spf13/cast"
)

// defaultPageLimit is the _limit advertised in pagination links when the
// response does not carry one.
const defaultPageLimit = 10

// paginate rewrites a collection response into _elem plus _links. The _next
// link consumes the response's _cursor; every other response key is copied
// through.
//
// TODO: _prev reuses the request's own cursor, so following it reloads the
// current page. A real previous link needs cursor history from the caller.
func paginate(url string, reqObj, resp map[string]any) map[string]any {
	out := make(map[string]any)

	cursor := cast.ToString(reqObj["_cursor"])
	limit := cast.ToString(resp["_limit"])
	if limit == "" {
		limit = cast.ToString(defaultPageLimit)
	}

	elem, ok := resp["_elem"]
	if !ok {
		return out
	}
	out["_elem"] = elem
	delete(resp, "_elem")

	links := make(map[string]any)
	if cursor == "" {
		links["_self"] = map[string]any{"href": url}
	} else {
		paged := url + "?_cursor=" + cursor + "&_limit=" + limit
		links["_self"] = map[string]any{"href": paged}
		links["_prev"] = map[string]any{"href": paged}
	}
	if next, ok := resp["_cursor"]; ok {
		links["_next"] = map[string]any{
			"href": url + "?_cursor=" + cast.ToString(next) + "&_limit=" + limit,
		}
		delete(resp, "_cursor")
	}
	out["_links"] = links

	for key, value := range resp {
		out[key] = value
	}

	return out
}
