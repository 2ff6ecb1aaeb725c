package request

// Envelope is the frame the gateway sends to a worker through the broker:
// the request itself, the authorization results collected by the gateway
// (nil when authorization is disabled) and the spec major version the
// request was validated against.
type Envelope struct {
	Request *Request       `json:"request"`
	Auth    map[string]any `json:"auth,omitempty"`
	Version string         `json:"version,omitempty"`
}
