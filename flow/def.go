package flow

import (
	"slices"
	"strconv"
	"strings"
)

// - a job executes exactly one flow definition
// - a flow definition is an ordered list of entries, keyed by step number
// - entries run serially in ascending step order; approval entries block
//   until a member of the approval team unblocks them
// - the definition travels as base64 encoded yaml ("tcl"), never as a
//   parsed structure, so storage stays agnostic of this package

type (
	// this is simply a structural representation of the flow document
	Definition struct {
		Flow []Entry `yaml:"flow" json:"flow"`
	}

	Entry struct {
		Type  Type   `yaml:"type" json:"type"`
		Name  string `yaml:"name,omitempty" json:"name,omitempty"`
		Step  int    `yaml:"step" json:"step"`
		Team  string `yaml:"team,omitempty" json:"team,omitempty"`
		Error string `yaml:"error,omitempty" json:"error,omitempty"`
	}

	Type string
)

const (
	TypeTerraformPlan        Type = "terraformPlan"
	TypeTerraformApply       Type = "terraformApply"
	TypeTerraformDestroy     Type = "terraformDestroy"
	TypeTerraformPlanDestroy Type = "terraformPlanDestroy"
	TypeApproval             Type = "approval"
	TypeYamlError            Type = "yamlError"
)

var knownTypes = []Type{
	TypeTerraformPlan,
	TypeTerraformApply,
	TypeTerraformDestroy,
	TypeTerraformPlanDestroy,
	TypeApproval,
	TypeYamlError,
}

func (t Type) Valid() bool {
	return slices.Contains(knownTypes, t)
}

func (t Type) String() string {
	return string(t)
}

// Entry returns the entry declared with the given step number.
func (d Definition) Entry(step int) (Entry, bool) {
	for _, e := range d.Flow {
		if e.Step == step {
			return e, true
		}
	}
	return Entry{}, false
}

// IsError reports whether the definition is the synthetic error flow.
func (d Definition) IsError() bool {
	return len(d.Flow) == 1 && d.Flow[0].Type == TypeYamlError
}

func (d Definition) Clone() Definition {
	return Definition{Flow: slices.Clone(d.Flow)}
}

func (d Definition) String() string {
	parts := make([]string, 0, len(d.Flow))
	for _, e := range d.Flow {
		parts = append(parts, e.String())
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// StepName is the name a persisted step gets; entries without a name
// fall back to "Running Step<N>".
func (e Entry) StepName() string {
	if e.Name != "" {
		return e.Name
	}
	return "Running Step" + strconv.Itoa(e.Step)
}

func (e Entry) String() string {
	s := e.Type.String() + "#" + strconv.Itoa(e.Step)
	if e.Name != "" {
		s += " " + `"` + e.Name + `"`
	}
	if e.Team != "" {
		s += " team=" + e.Team
	}
	return s
}
