package client

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"
)

// Authenticator attaches credentials to an outgoing request.
type Authenticator interface {
	Apply(r *http.Request) error
}

// AuthConfig is the parsed $LAF_CONFIG/defaultauth file: the mechanism name
// from the auth_mechanism section and its arguments from auth_args.
type AuthConfig struct {
	Mechanism string

	// Kerberos arguments.
	Principal            string
	MutualAuthentication int

	// Basic arguments.
	Username string
	Password string

	// Signature arguments.
	KeyID     string
	SecretKey string
}

// AuthMechanism builds an Authenticator from the parsed config.
type AuthMechanism func(cfg AuthConfig) (Authenticator, error)

var authMechanisms = map[string]AuthMechanism{
	"basic": newBasicAuth,
}

// RegisterAuthMechanism installs the transport constructor for a mechanism
// name used in defaultauth files. Deployments using kerberos register their
// GSSAPI constructor here before building a Client.
func RegisterAuthMechanism(name string, mech AuthMechanism) {
	authMechanisms[name] = mech
}

// DefaultAuth reads <configDir>/defaultauth and builds the configured
// authenticator. An empty configDir, a missing file or a file naming no
// mechanism all yield a nil authenticator.
func DefaultAuth(configDir string) (Authenticator, error) {
	if configDir == "" {
		return nil, nil
	}
	path := filepath.Join(configDir, "defaultauth")
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}

	file, err := ini.LoadSources(ini.LoadOptions{AllowBooleanKeys: true}, path)
	if err != nil {
		return nil, fmt.Errorf("client: %s: %w", path, err)
	}

	section, err := file.GetSection("auth_mechanism")
	if err != nil {
		return nil, nil
	}
	names := section.KeyStrings()
	if len(names) == 0 {
		return nil, nil
	}

	args := file.Section("auth_args")
	cfg := AuthConfig{
		Mechanism:            names[0],
		Principal:            args.Key("principal").String(),
		MutualAuthentication: args.Key("mutual_authentication").MustInt(0),
		Username:             args.Key("username").String(),
		Password:             args.Key("password").String(),
		KeyID:                args.Key("key_id").String(),
		SecretKey:            args.Key("secret_key").String(),
	}

	mech, ok := authMechanisms[cfg.Mechanism]
	if !ok {
		return nil, fmt.Errorf("client: unknown auth mechanism %q in %s", cfg.Mechanism, path)
	}

	return mech(cfg)
}

type basicAuth struct {
	username string
	password string
}

func newBasicAuth(cfg AuthConfig) (Authenticator, error) {
	if cfg.Username == "" {
		return nil, errors.New("client: basic auth requires a username in auth_args")
	}
	return &basicAuth{username: cfg.Username, password: cfg.Password}, nil
}

func (a *basicAuth) Apply(r *http.Request) error {
	r.SetBasicAuth(a.username, a.password)
	return nil
}
