package flow

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ErrorStep     = 100
	ErrorStepName = "Template Yaml Error, check API logs"
)

var (
	ErrEmptyFlow = errors.New("yaml template does not have any flow")
)

// ParseError describes why a flow document was rejected. Entry is the
// index of the offending entry, or -1 when the document as a whole is bad.
type ParseError struct {
	Entry   int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Err.Error()
	}
	if e.Entry >= 0 {
		return fmt.Sprintf("flow[%d]: %s", e.Entry, msg)
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Encode turns a yaml flow document into its transport form.
func Encode(doc []byte) string {
	return base64.StdEncoding.EncodeToString(doc)
}

// Decode reverses Encode.
func Decode(text string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.TrimSpace(text))
}

// Parse decodes and validates a flow text. It never fails: any problem
// results in a definition holding a single yamlError entry that carries
// the cause, so a broken definition still materializes into a visible
// step.
func Parse(text string) Definition {
	d, _ := ParseResult(text)
	return d
}

// ParseResult is Parse, but also reports the cause when the returned
// definition is the synthetic error flow.
func ParseResult(text string) (Definition, error) {
	doc, err := Decode(text)
	if err != nil {
		perr := &ParseError{Entry: -1, Message: "decoding flow", Err: err}
		return ErrorDefinition(perr.Error()), perr
	}

	d, err := Unmarshal(doc)
	if err != nil {
		return ErrorDefinition(err.Error()), err
	}

	return d, nil
}

// Unmarshal parses a plain (not encoded) yaml flow document and
// validates it.
func Unmarshal(doc []byte) (Definition, error) {
	var d Definition
	if err := yaml.Unmarshal(doc, &d); err != nil {
		return Definition{}, &ParseError{Entry: -1, Err: err}
	}

	if err := d.Validate(); err != nil {
		return Definition{}, err
	}

	return d, nil
}

func (d Definition) Validate() error {
	if len(d.Flow) == 0 {
		return &ParseError{Entry: -1, Err: ErrEmptyFlow}
	}

	seen := make(map[int]int, len(d.Flow))
	for i, e := range d.Flow {
		if !e.Type.Valid() {
			return &ParseError{Entry: i, Message: fmt.Sprintf("unknown step type %q", e.Type)}
		}
		if e.Step <= 0 {
			return &ParseError{Entry: i, Message: fmt.Sprintf("step number must be positive, got %d", e.Step)}
		}
		if prev, ok := seen[e.Step]; ok {
			return &ParseError{Entry: i, Message: fmt.Sprintf("step number %d already used by flow[%d]", e.Step, prev)}
		}
		seen[e.Step] = i
	}

	return nil
}

// ErrorDefinition builds the synthetic single-entry flow used in place
// of an unusable definition.
func ErrorDefinition(message string) Definition {
	return Definition{
		Flow: []Entry{
			{
				Type:  TypeYamlError,
				Step:  ErrorStep,
				Name:  ErrorStepName,
				Error: message,
			},
		},
	}
}
