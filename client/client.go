// Package client executes requests against a remote family service: it maps
// verbs to HTTP methods, builds resource URLs from the lone's spec, walks
// paginated collection reads and polls long-running tasks to completion.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lafkit/laf/family"
	"github.com/lafkit/laf/openapi"
	"github.com/lafkit/laf/request"
)

// httpVerbs are the verbs with a direct HTTP method mapping. Any other verb
// is a custom operation, sent as POST to the :verb form of the URL.
var httpVerbs = map[string]bool{
	"get":    true,
	"create": true,
	"delete": true,
	"update": true,
}

// defaultPollPause is the wait between polls of a long-running task.
const defaultPollPause = 5 * time.Second

// Client talks to one family deployment.
type Client struct {
	cfg    *family.Config
	prefix string
	http   *http.Client
	auth   Authenticator
	pause  time.Duration
	onPage func(elem any)
	log    *slog.Logger

	mu    sync.Mutex
	specs map[string]*openapi.Spec
}

// Option configures a Client.
type Option func(*Client)

// WithAuthenticator overrides the defaultauth mechanism.
func WithAuthenticator(a Authenticator) Option {
	return func(c *Client) { c.auth = a }
}

// WithHTTPClient replaces the transport.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithPollInterval sets the wait between long-running task polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pause = d }
}

// WithPageFunc receives each intermediate page of a collection walk. The
// final page is the return value of Do.
func WithPageFunc(fn func(elem any)) Option {
	return func(c *Client) { c.onPage = fn }
}

// WithLogger sets the client's logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New builds a client for the deployment named by cfg: the endpoint comes
// from the --servers http entry when given, the deployment url_prefix
// otherwise. The proxy environment is ignored so requests always go straight
// to the service.
func New(cfg *family.Config, opts ...Option) (*Client, error) {
	prefix, err := urlPrefix(cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:    cfg,
		prefix: prefix,
		http:   &http.Client{Transport: &http.Transport{Proxy: nil}},
		pause:  defaultPollPause,
		log:    slog.Default(),
		specs:  make(map[string]*openapi.Spec),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.auth == nil {
		auth, err := DefaultAuth(os.Getenv("LAF_CONFIG"))
		if err != nil {
			return nil, err
		}
		c.auth = auth
	}

	return c, nil
}

func urlPrefix(cfg *family.Config) (string, error) {
	if hosts := cfg.Servers["http"]; len(hosts) > 0 {
		return hosts[0], nil
	}
	if prefix := cfg.URLPrefix(); prefix != "" {
		return prefix, nil
	}
	return "", fmt.Errorf("client: no http endpoint for deployment %q", cfg.Deployment)
}

// Do executes one request. Service-level failures come back as response
// values in the {"_error": ...} shape; the error return is for client-side
// problems such as a missing spec or a cancelled context.
func (c *Client) Do(ctx context.Context, req *request.Request) (any, error) {
	spec, err := c.spec(req.Lone)
	if err != nil {
		return nil, err
	}

	accept := openapi.AcceptHeader(c.cfg.Family, req.Lone, spec.Version)
	method := httpMethod(req)
	url, payload := c.buildURL(req, spec)

	header := http.Header{}
	header.Set("Accept", accept)
	header.Set("LAF-TX-ID", req.TxID)
	header.Set("LAF-ROLE", req.Role)
	header.Set("LAF-CM", req.CM)
	header.Set("LAF-OBO", req.OBO)
	if nonEmpty(payload) {
		header.Set("Content-Type", accept)
	}

	c.log.Debug("sending request", "method", method, "url", url, "txid", req.TxID)

	if method == http.MethodGet && req.PK == "" {
		return c.collection(ctx, url, req, header)
	}
	return c.single(ctx, method, url, payload, header)
}

// Status reads the journal state of a long-running task directly.
func (c *Client) Status(ctx context.Context, rqid string) (any, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")

	resp, err := c.send(ctx, http.MethodGet, "http://"+c.prefix+"/status/"+rqid, nil, header)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusProcessing:
		return "Task in Progress", nil
	case http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return map[string]any{"_error": "Task not found"}, nil
	default:
		return decodeBody(resp), nil
	}
}

// spec loads and caches the latest spec of a lone.
func (c *Client) spec(lone string) (*openapi.Spec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if spec, ok := c.specs[lone]; ok {
		return spec, nil
	}

	spec, err := openapi.Load(c.cfg.BaseDir, c.cfg.Family, lone)
	if err != nil {
		return nil, err
	}
	c.specs[lone] = spec

	return spec, nil
}

// httpMethod maps a verb to its HTTP method: create is PUT with a primary
// key and POST without, update is PUT, custom verbs are POST.
func httpMethod(req *request.Request) string {
	switch req.Verb {
	case "get":
		return http.MethodGet
	case "delete":
		return http.MethodDelete
	case "create":
		if req.PK != "" {
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

// buildURL assembles the resource URL and picks the request payload. A
// sub-resource path switches the payload from the merged object to the body.
func (c *Client) buildURL(req *request.Request, spec *openapi.Spec) (string, any) {
	url := "http://" + c.prefix + "/" + req.Lone
	payload := any(req.Obj)

	if req.PK != "" {
		url += "/" + quote(req.PK)
	}
	if req.Verb != "" && !httpVerbs[req.Verb] {
		url += ":" + req.Verb
	}
	if httpVerbs[req.Verb] && req.PK != "" && req.Path != "" {
		url = joinSubPath(url, req.Path, spec.SchemaNames())
		payload = req.Body
	}

	return url, payload
}

// joinSubPath appends a sub-resource path: schema-named parts separate
// segments, consecutive free values collapse into one segment joined by an
// encoded slash.
func joinSubPath(url, path string, schemaNames []string) string {
	names := make(map[string]bool, len(schemaNames))
	for _, name := range schemaNames {
		names[name] = true
	}

	joined := false
	for _, part := range strings.Split(strings.TrimLeft(path, "/"), "/") {
		switch {
		case names[part]:
			url += "/" + part
			joined = false
		case joined:
			url += "%2f" + quote(part)
		default:
			url += "/" + quote(part)
			joined = true
		}
	}

	return url
}

// quote percent-encodes everything outside the unreserved set, the slash
// included, so a primary key always occupies one path segment.
func quote(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// collection walks a paginated read: intermediate pages go to the page
// callback, the final page's _elem is the result. The request's own query
// string is re-appended to every _next link.
func (c *Client) collection(ctx context.Context, url string, req *request.Request, header http.Header) (any, error) {
	query := ""
	if len(req.Obj) > 0 {
		query = strings.Join(openapi.FormEncode(req.Obj), "&")
		url += "?" + query
	}

	for {
		resp, err := c.send(ctx, http.MethodGet, url, nil, header)
		if err != nil {
			return transportError(err), nil
		}
		decoded := decodeBody(resp)
		resp.Body.Close()

		page, ok := decoded.(map[string]any)
		if !ok {
			return decoded, nil
		}
		elem, paged := page["_elem"]
		if !paged {
			return page, nil
		}

		links, _ := page["_links"].(map[string]any)
		next, _ := links["_next"].(map[string]any)
		href, _ := next["href"].(string)
		if href == "" {
			return elem, nil
		}

		if c.onPage != nil {
			c.onPage(elem)
		}
		url = href
		if query != "" {
			url += "&" + query
		}
	}
}

// single sends one non-collection request and shapes the reply: 202 polls
// the task to completion, 204 is nil, everything else is the decoded body.
func (c *Client) single(ctx context.Context, method, url string, payload any, header http.Header) (any, error) {
	var body io.Reader
	if nonEmpty(payload) {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("client: encoding request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.send(ctx, method, url, body, header)
	if err != nil {
		return transportError(err), nil
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		io.Copy(io.Discard, resp.Body)
		return c.await(ctx, resp.Header.Get("Location"))
	case http.StatusNoContent:
		return nil, nil
	default:
		return decodeBody(resp), nil
	}
}

// await polls the status endpoint of an accepted task until the journal
// reports a terminal state. A completed task's payload field is the result.
func (c *Client) await(ctx context.Context, location string) (any, error) {
	url := "http://" + c.prefix + location
	header := http.Header{}
	header.Set("Accept", "application/json")

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pause):
		}

		resp, err := c.send(ctx, http.MethodGet, url, nil, header)
		if err != nil {
			return transportError(err), nil
		}

		if resp.StatusCode == http.StatusProcessing {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			continue
		}

		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK:
			decoded := decodeBody(resp)
			if m, ok := decoded.(map[string]any); ok {
				if payload, ok := m["payload"]; ok {
					return payload, nil
				}
			}
			return decoded, nil
		case http.StatusNoContent:
			return nil, nil
		default:
			return decodeBody(resp), nil
		}
	}
}

func (c *Client) send(ctx context.Context, method, url string, body io.Reader, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	req.Header = header.Clone()

	if c.auth != nil {
		if err := c.auth.Apply(req); err != nil {
			return nil, err
		}
	}

	return c.http.Do(req)
}

// decodeBody parses a JSON response, standing in the HTTP status when the
// body is not parseable.
func decodeBody(resp *http.Response) any {
	var decoded any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return map[string]any{"_error": fmt.Sprintf("HTTP Error %d", resp.StatusCode)}
	}
	return decoded
}

func transportError(err error) map[string]any {
	return map[string]any{"_error": "HTTP Error " + err.Error()}
}

func nonEmpty(payload any) bool {
	if payload == nil {
		return false
	}
	if m, ok := payload.(map[string]any); ok {
		return len(m) > 0
	}
	return true
}
