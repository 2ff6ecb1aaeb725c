// Package cli runs a lone from the command line: it assembles the request
// input from the framework options, the lone's flag schema, stdin and inline
// YAML, then executes the resulting requests against a remote deployment or
// in-process.
package cli

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lafkit/laf/family"
	"github.com/lafkit/laf/merge"
	"github.com/lafkit/laf/openapi"
)

// httpVerbs are the verbs with a direct HTTP method mapping. Any other verb
// is a custom operation.
var httpVerbs = map[string]bool{
	"get":    true,
	"create": true,
	"delete": true,
	"update": true,
}

// interactivePrompt is printed on stderr before reading input from a
// terminal.
const interactivePrompt = "Enter YAML input and type Ctrl-D (i.e. EOF) to submit:\n\n"

// pkPathRegexp splits a primary-key argument into the key and an optional
// bracketed sub-resource path: pk or pk[some/path].
var pkPathRegexp = regexp.MustCompile(`^([^\[\]]+)(?:\[([^\[\]]+)\])?$`)

// UsageError is a command-line problem reported to the caller as an error
// envelope instead of a stack trace.
type UsageError struct {
	Reason any
	Verb   string
	PK     string
	Obj    any
}

// Error implements error.
func (e *UsageError) Error() string {
	return fmt.Sprintf("cli: %v", e.Reason)
}

func usage(reason any) *UsageError {
	return &UsageError{Reason: reason}
}

// CommandLine is the parsed invocation: the verb, the primary key with its
// optional sub-resource path, and the merged input objects.
type CommandLine struct {
	Verb    string
	PK      string
	Path    string
	Input   []map[string]any
	Body    any
	Options Options
	Help    bool
}

// Assembler parses one command line for a lone. The input streams are
// injectable so the stdin and terminal behavior is testable.
type Assembler struct {
	Lone    string
	BaseDir string
	Stdin   io.Reader
	Stderr  io.Writer
	IsTTY   func() bool
}

// Parse assembles the command line: framework options first, then the verb,
// the lone's getopt flags, inline YAML and the primary key. For HTTP verbs
// the input sources are merged into the request objects; a missing input is
// prompted for interactively when the operation requires a body.
func (a *Assembler) Parse(args []string) (*CommandLine, error) {
	opts, rest, err := parseFrameworkOptions(args)
	if err != nil {
		return nil, usage(err.Error())
	}

	// A status lookup short-circuits the rest of the command line.
	if opts.Status != "" {
		return &CommandLine{Verb: "get", Options: opts}, nil
	}

	if len(rest) < 1 {
		return nil, usage("usage <verb> <pk>")
	}
	verb := rest[0]
	if verb == "help" {
		return &CommandLine{Help: true, Options: opts}, nil
	}

	stdinInput, err := a.readStdin(false, "")
	if err != nil {
		return nil, &UsageError{Reason: fmt.Sprintf("Error parsing STDIN YAML:\n%v", err), Verb: verb}
	}
	if m, ok := stdinInput.(map[string]any); ok {
		if _, failed := m["_error"]; failed {
			return nil, usage(m)
		}
	}

	loneOpts, err := family.LoadLoneOptions(a.BaseDir, a.Lone)
	if err != nil {
		return nil, &UsageError{Reason: err.Error(), Verb: verb}
	}
	defaultInput := loneOpts.Default(verb)

	getoptInput, rest, err := parseGetopt(loneOpts.Flags(verb), rest)
	if err != nil {
		return nil, &UsageError{Reason: err.Error(), Verb: verb}
	}

	yamlInput, rest, err := extractInlineYAML(rest)
	if err != nil {
		return nil, &UsageError{
			Reason: fmt.Sprintf("Error parsing command line YAML:\n%v", err), Verb: verb}
	}
	body := yamlInput

	var pk, path string
	switch len(rest) {
	case 0:
		return nil, &UsageError{Reason: "Error parsing command line: no verb given", Verb: verb}
	case 1:
	case 2:
		match := pkPathRegexp.FindStringSubmatch(rest[1])
		if match == nil {
			return nil, &UsageError{
				Reason: fmt.Sprintf("Unparseable primary key: %q", rest[1]), Verb: verb}
		}
		pk, path = match[1], match[2]
		if path != "" {
			getoptInput = merge.ExpandPath(path, getoptInput)
			yamlInput = merge.ExpandPath(path, yamlInput)
		}
	default:
		return nil, &UsageError{
			Reason: fmt.Sprintf("Unrecognized elements on the command line: %q", rest[2:]),
			Verb:   verb, PK: rest[1]}
	}

	var input []map[string]any
	if httpVerbs[verb] {
		input, err = merge.Inputs(defaultInput, stdinInput, getoptInput, yamlInput)
		if err != nil {
			return nil, &UsageError{
				Reason: fmt.Sprintf("Error merging inputs: %v", err), Verb: verb, PK: pk}
		}
	} else if m, ok := body.(map[string]any); ok {
		input = []map[string]any{m}
	} else {
		return &CommandLine{Verb: verb, PK: pk, Path: path, Body: body, Options: opts}, nil
	}

	// Interactive mode: no input so far, or a stub primary key with no _id
	// to take it from. Only operations that require a body prompt.
	if input == nil || (pk == "-" && noID(input)) {
		if a.bodyRequired(verb, pk, path) {
			stdinInput, err = a.readStdin(true, interactivePrompt)
			if err != nil {
				return nil, &UsageError{
					Reason: fmt.Sprintf("Error parsing STDIN YAML:\n%v", err), Verb: verb, PK: pk}
			}
			if m, ok := stdinInput.(map[string]any); ok {
				if _, failed := m["_error"]; failed {
					return nil, usage(m)
				}
			}
			input, err = merge.Inputs(defaultInput, stdinInput, getoptInput, yamlInput)
			if err != nil {
				return nil, &UsageError{
					Reason: fmt.Sprintf("Error merging inputs: %v", err), Verb: verb, PK: pk}
			}
		}
	}

	return &CommandLine{
		Verb:    verb,
		PK:      pk,
		Path:    path,
		Input:   input,
		Body:    body,
		Options: opts,
	}, nil
}

// readStdin reads YAML from stdin. With askTTY false the input is read only
// when stdin is a pipe; with askTTY true only when it is a terminal, after
// printing the prompt on stderr.
func (a *Assembler) readStdin(askTTY bool, message string) (any, error) {
	if a.IsTTY() != askTTY {
		return nil, nil
	}
	if message != "" && askTTY {
		fmt.Fprint(a.Stderr, message)
	}

	data, err := io.ReadAll(a.Stdin)
	if err != nil {
		return nil, err
	}

	var input any
	if err := yaml.Unmarshal(data, &input); err != nil {
		return nil, err
	}
	return input, nil
}

// extractInlineYAML parses the inline YAML form: the first argument starting
// with '---' and everything after it, joined, is one YAML document.
func extractInlineYAML(args []string) (any, []string, error) {
	for i, arg := range args {
		if !strings.HasPrefix(arg, "---") {
			continue
		}
		var obj any
		if err := yaml.Unmarshal([]byte(strings.Join(args[i:], " ")), &obj); err != nil {
			return nil, nil, err
		}
		return obj, args[:i], nil
	}
	return nil, args, nil
}

// bodyRequired reports whether the operation addressed by the command line
// declares a required request body. Without a loadable spec every operation
// is assumed to require one, so the prompt still appears.
func (a *Assembler) bodyRequired(verb, pk, path string) bool {
	fam, err := family.Name(a.BaseDir)
	if err != nil {
		return true
	}
	spec, err := openapi.Load(a.BaseDir, fam, a.Lone)
	if err != nil {
		return true
	}

	template, _, err := pathTemplate(a.Lone, verb, pk, path, spec.SchemaNames())
	if err != nil {
		return true
	}
	op, err := findOperation(spec, template, verbMethod(verb, pk))
	if err != nil {
		return true
	}

	return op.BodyRequired
}

func noID(input []map[string]any) bool {
	if len(input) == 0 {
		return true
	}
	_, ok := input[0]["_id"]
	return !ok
}
