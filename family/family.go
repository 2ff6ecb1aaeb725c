// Package family loads the per-family configuration tree: the family name,
// the deployment overlay, the server lone list, the change-management policy
// and the per-lone CLI option schemas.
//
// A family base directory looks like:
//
//	etc/family                    family name, one line
//	etc/laf-server.yml            lones served by this deployment
//	etc/cm-config.yml             operations requiring a change ticket
//	schemas/<lone>.options.yml    CLI getopt schema and default inputs
//	apischemas/openapi/vnd.*      versioned API specs
package family

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	familyFile    = "etc/family"
	serverFile    = "etc/laf-server.yml"
	cmConfigFile  = "etc/cm-config.yml"
	optionsFormat = "schemas/%s.options.yml"
)

// Name reads the family name from etc/family under basedir.
func Name(basedir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(basedir, familyFile))
	if err != nil {
		return "", fmt.Errorf("family: %w", err)
	}

	name := strings.TrimRight(string(data), "\n")
	if name == "" {
		return "", errors.New("family: etc/family is empty")
	}

	return name, nil
}

// Options selects what to load into a Config beyond the family files.
type Options struct {
	// Deployment names the deployment overlay, "prod" when empty.
	Deployment string

	// Mode is the execution mode recorded in the config, "client" when empty.
	Mode string

	// Servers maps a transport protocol to its endpoints, as collected from
	// the --servers flags.
	Servers map[string][]string

	// ConfigDir is the directory holding deployment overlay files, normally
	// $LAF_CONFIG. Empty disables the overlay.
	ConfigDir string
}

// Config is the resolved runtime configuration of one family deployment.
type Config struct {
	Family     string
	Deployment string
	Mode       string
	BaseDir    string
	Servers    map[string][]string

	// Overlay holds the keys of the deployment config file verbatim.
	Overlay map[string]any
}

// Load resolves the family configuration: the name from etc/family, the
// option defaults, and the deployment overlay from
// <ConfigDir>/config-<family>#<deployment>.json when ConfigDir is set.
// Slashes in the family name map to '#' in the overlay file name. A set
// ConfigDir with no matching overlay file is an unknown deployment and fails.
func Load(basedir string, opts Options) (*Config, error) {
	name, err := Name(basedir)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Family:     name,
		Deployment: opts.Deployment,
		Mode:       opts.Mode,
		BaseDir:    basedir,
		Servers:    opts.Servers,
	}
	if cfg.Deployment == "" {
		cfg.Deployment = "prod"
	}
	if cfg.Mode == "" {
		cfg.Mode = "client"
	}

	if opts.ConfigDir != "" {
		overlay, err := loadOverlay(opts.ConfigDir, name, cfg.Deployment)
		if err != nil {
			return nil, err
		}
		cfg.Overlay = overlay
	}

	return cfg, nil
}

func loadOverlay(dir, name, deployment string) (map[string]any, error) {
	stem := strings.ReplaceAll(name, "/", "#") + "#" + deployment
	path := filepath.Join(dir, "config-"+stem+".json")

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("family: invalid deployment %q for family %q", deployment, name)
		}
		return nil, fmt.Errorf("family: %w", err)
	}

	var overlay map[string]any
	if err := json.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("family: overlay %s: %w", path, err)
	}

	return overlay, nil
}

// URLPrefix returns the overlay's url_prefix, or "" when absent.
func (c *Config) URLPrefix() string {
	if c.Overlay == nil {
		return ""
	}
	prefix, _ := c.Overlay["url_prefix"].(string)
	return prefix
}

// ServerConfig is etc/laf-server.yml: the lones a deployment serves.
type ServerConfig struct {
	Lones []string `yaml:"lones"`
}

// LoadServerConfig reads etc/laf-server.yml under basedir.
func LoadServerConfig(basedir string) (*ServerConfig, error) {
	data, err := os.ReadFile(filepath.Join(basedir, serverFile))
	if err != nil {
		return nil, fmt.Errorf("family: %w", err)
	}

	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("family: %s: %w", serverFile, err)
	}

	return &cfg, nil
}

// CMRequired reports whether etc/cm-config.yml marks the operation of a lone
// as requiring a change-management ticket. A lone's entry is either a list of
// operation ids or a mapping keyed by them. A missing file means no operation
// requires one; an unreadable or malformed file is an error so a policy file
// cannot be silently ignored.
func CMRequired(basedir, lone, operationID string) (bool, error) {
	data, err := os.ReadFile(filepath.Join(basedir, cmConfigFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("family: %w", err)
	}

	var cmconfig map[string]any
	if err := yaml.Unmarshal(data, &cmconfig); err != nil {
		return false, fmt.Errorf("family: error loading cm-config.yml: %w", err)
	}

	switch ops := cmconfig[lone].(type) {
	case map[string]any:
		_, ok := ops[operationID]
		return ok, nil
	case []any:
		for _, op := range ops {
			if id, ok := op.(string); ok && id == operationID {
				return true, nil
			}
		}
	}

	return false, nil
}

// LoneOptions is schemas/<lone>.options.yml: the CLI flag schema and the
// default input of each verb.
//
//	getopt:
//	  default:          # flags shared by every verb
//	    name: string
//	  create:           # per-verb flags, override shared kinds
//	    tags: list
//	    force: boolean
//	default_input:
//	  create:
//	    region: us
type LoneOptions struct {
	Getopt       map[string]map[string]string `yaml:"getopt"`
	DefaultInput map[string]any               `yaml:"default_input"`
}

// LoadLoneOptions reads the options file of a lone. A missing file yields
// empty options, not an error: most lones declare no CLI flags.
func LoadLoneOptions(basedir, lone string) (*LoneOptions, error) {
	path := filepath.Join(basedir, fmt.Sprintf(optionsFormat, lone))

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &LoneOptions{}, nil
		}
		return nil, fmt.Errorf("family: %w", err)
	}

	var opts LoneOptions
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return nil, fmt.Errorf("family: %s: %w", path, err)
	}

	return &opts, nil
}

// Flags returns the getopt schema for one verb: the shared default flags
// overlaid with the verb's own. The kind of each flag is one of "string",
// "list" or "boolean".
func (o *LoneOptions) Flags(verb string) map[string]string {
	flags := make(map[string]string, len(o.Getopt["default"])+len(o.Getopt[verb]))
	for name, kind := range o.Getopt["default"] {
		flags[name] = kind
	}
	for name, kind := range o.Getopt[verb] {
		flags[name] = kind
	}
	return flags
}

// Default returns the default input of a verb. The framework verbs get and
// delete always start from an empty object regardless of the options file;
// other verbs with no declared default have none, so an invocation without
// input stays inputless.
func (o *LoneOptions) Default(verb string) any {
	if verb == "get" || verb == "delete" {
		return map[string]any{}
	}
	if v, ok := o.DefaultInput[verb]; ok {
		return v
	}
	return nil
}
