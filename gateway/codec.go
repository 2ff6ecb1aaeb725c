package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// mimeRegexp matches versioned media types: application/<anything>+json or
// +yaml. The suffix selects the codec.
var mimeRegexp = regexp.MustCompile(`^application/(.+)\+(yaml|json)$`)

var defaultMediaTypes = []string{"application/yaml", "application/json"}

// Codec encodes and decodes one media type family.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
}

type jsonCodec struct{}

func (jsonCodec) Encode(v any) ([]byte, error) { return json.Marshal(v) }

// Decode keeps numbers as json.Number so integer values survive validation
// and the worker round trip exactly.
func (jsonCodec) Decode(data []byte) (any, error) {
	return jsonschema.UnmarshalJSON(bytes.NewReader(data))
}

type yamlCodec struct{}

func (yamlCodec) Encode(v any) ([]byte, error) { return yaml.Marshal(v) }

func (yamlCodec) Decode(data []byte) (any, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// codecFor maps a plain media type to its codec, nil when unknown.
func codecFor(mediaType string) Codec {
	switch mediaType {
	case "application/json":
		return jsonCodec{}
	case "application/yaml":
		return yamlCodec{}
	}
	return nil
}

// negotiated is the outcome of content negotiation for one request: the
// response encoder with the Accept value it answers to, and the decoded-body
// input when the request carried one.
type negotiated struct {
	encode Codec
	accept string

	// wildcard records that the encoder came from an Accept of */*: route
	// selection may then fall back to the latest version.
	wildcard bool

	decode      Codec
	contentType string
	body        []byte
}

// negotiate resolves the Accept and Content-Type headers. The Accept header
// is either a plain default type, a versioned application/*+json|yaml type,
// or */* on a read, which falls back to YAML. Anything else is 406; an
// unusable Content-Type on a non-empty body is 415.
func negotiate(r *http.Request) (*negotiated, *APIError) {
	neg := &negotiated{accept: r.Header.Get("Accept")}

	neg.encode = codecFor(neg.accept)
	if neg.encode == nil {
		if m := mimeRegexp.FindStringSubmatch(neg.accept); m != nil {
			neg.encode = codecFor("application/" + m[2])
		}
	}
	if neg.encode == nil {
		method := strings.ToLower(r.Method)
		if strings.Contains(neg.accept, "*/*") && (method == "get" || method == "options") {
			neg.accept = "application/yaml"
			neg.encode = yamlCodec{}
			neg.wildcard = true
		} else {
			return nil, newAPIError("Oops. Unrecognizable Accept MIME", http.StatusNotAcceptable)
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, newAPIError("Error reading request body", http.StatusBadRequest)
	}
	if len(body) > 0 {
		contentType, _, _ := strings.Cut(r.Header.Get("Content-Type"), ";")
		contentType = strings.TrimSpace(contentType)

		neg.decode = codecFor(contentType)
		if neg.decode == nil {
			if m := mimeRegexp.FindStringSubmatch(contentType); m != nil {
				neg.decode = codecFor("application/" + m[2])
			}
		}
		if neg.decode == nil {
			return nil, newAPIError("Oops. Unrecognizable Content-Type MIME", http.StatusUnsupportedMediaType)
		}

		neg.contentType = contentType
		neg.body = body
	}

	return neg, nil
}
