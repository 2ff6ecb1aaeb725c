package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// Options are the framework-level flags of a lone invocation, parsed from
// the leading --options of the command line.
type Options struct {
	Debug      bool
	Deployment string
	Mode       string
	OBO        string
	Role       string
	CM         string

	// Status is the rqid of a long-running task to look up. When set the
	// rest of the command line is not parsed.
	Status string

	// Servers maps a transport protocol to its endpoints, from repeated
	// --servers proto:addr flags.
	Servers map[string][]string
}

// parseFrameworkOptions consumes the leading --flag arguments. Parsing stops
// at the first argument that is not an option: everything after it belongs
// to the lone. Every flag takes a value, either inline after '=' or as the
// next argument. Unrecognized flags are consumed and ignored.
func parseFrameworkOptions(args []string) (Options, []string, error) {
	var opts Options

	rest := args
	for len(rest) > 0 && strings.HasPrefix(rest[0], "--") {
		name := strings.TrimPrefix(rest[0], "--")
		rest = rest[1:]

		var value string
		if eq := strings.IndexByte(name, '='); eq >= 0 {
			value = name[eq+1:]
			name = name[:eq]
		} else {
			if len(rest) == 0 {
				return opts, nil, fmt.Errorf("missing value for option --%s", name)
			}
			value = rest[0]
			rest = rest[1:]
		}

		switch name {
		case "debug":
			debug, err := cast.ToBoolE(value)
			if err != nil {
				return opts, nil, fmt.Errorf("invalid boolean %q for option --debug", value)
			}
			opts.Debug = debug
		case "deployment":
			opts.Deployment = value
		case "mode":
			opts.Mode = value
		case "obo":
			opts.OBO = value
		case "role":
			opts.Role = value
		case "cm":
			opts.CM = value
		case "status":
			opts.Status = value
		case "servers":
			if opts.Servers == nil {
				opts.Servers = make(map[string][]string)
			}
			for _, entry := range strings.Split(value, ",") {
				proto, addr, found := strings.Cut(entry, ":")
				if !found {
					return opts, nil, fmt.Errorf("invalid server %q, expected proto:address", entry)
				}
				opts.Servers[proto] = append(opts.Servers[proto], addr)
			}
		}
	}

	if len(opts.Servers) > 1 {
		return opts, nil, fmt.Errorf("multiple server types specified on the command line")
	}

	return opts, rest, nil
}

// parseGetopt applies the lone's flag schema to the arguments: declared
// --flags are collected into an input object, everything else stays in rest
// for positional parsing. List flags are repeatable and comma-splitting,
// boolean flags take an explicit true/false value.
func parseGetopt(flags map[string]string, args []string) (any, []string, error) {
	for name, kind := range flags {
		switch strings.ToLower(kind) {
		case "string", "list", "boolean":
		default:
			return nil, nil, fmt.Errorf("invalid entry in configuration: %q: %q", name, kind)
		}
	}

	input := make(map[string]any)
	var rest []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			rest = append(rest, arg)
			continue
		}

		name := strings.TrimPrefix(arg, "--")
		var value string
		hasValue := false
		if eq := strings.IndexByte(name, '='); eq >= 0 {
			value = name[eq+1:]
			name = name[:eq]
			hasValue = true
		}

		kind, known := flags[name]
		if !known {
			rest = append(rest, arg)
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, nil, fmt.Errorf("missing value for option --%s", name)
			}
			i++
			value = args[i]
		}

		switch strings.ToLower(kind) {
		case "boolean":
			b, err := cast.ToBoolE(value)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid boolean %q for option --%s", value, name)
			}
			input[name] = b
		case "list":
			prev, _ := input[name].([]any)
			for _, item := range strings.Split(value, ",") {
				prev = append(prev, item)
			}
			input[name] = prev
		case "string":
			input[name] = value
		}
	}

	if len(input) == 0 {
		return nil, rest, nil
	}
	return input, rest, nil
}
