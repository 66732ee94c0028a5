package orchestration

import (
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// SupportedVersion is the only plan document version understood.
const SupportedVersion = 1

// PlanDocument is the on-disk shape of a plan.
type PlanDocument struct {
	Version     *int          `yaml:"version" json:"version" jsonschema:"enum=1"`
	Name        string        `yaml:"name,omitempty" json:"name,omitempty"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Common      *BakeSpec     `yaml:"common,omitempty" json:"common,omitempty"` // Defaults merged into every bake
	Jobs        []JobDocument `yaml:"jobs" json:"jobs"`
}

// JobDocument is one job of a plan document. A job declares builds
// (kernel plans) or bakes (bitbake plans), and tests that run against
// each of its builds.
type JobDocument struct {
	Name   string      `yaml:"name,omitempty" json:"name,omitempty"`
	Build  *BuildSpec  `yaml:"build,omitempty" json:"build,omitempty"`
	Builds []BuildSpec `yaml:"builds,omitempty" json:"builds,omitempty"`
	Matrix *MatrixSpec `yaml:"matrix,omitempty" json:"matrix,omitempty"`
	Test   *TestSpec   `yaml:"test,omitempty" json:"test,omitempty"`
	Tests  []TestSpec  `yaml:"tests,omitempty" json:"tests,omitempty"`
	Bake   *BakeSpec   `yaml:"bake,omitempty" json:"bake,omitempty"`
	Bakes  []BakeSpec  `yaml:"bakes,omitempty" json:"bakes,omitempty"`
}

func (j *JobDocument) hasBuilds() bool {
	return j.Build != nil || len(j.Builds) > 0 || j.Matrix != nil
}

func (j *JobDocument) hasBakes() bool {
	return j.Bake != nil || len(j.Bakes) > 0
}

func (j *JobDocument) allTests() []TestSpec {
	var tests []TestSpec
	if j.Test != nil {
		tests = append(tests, *j.Test)
	}
	return append(tests, j.Tests...)
}

// MatrixSpec is a cartesian build declaration: one build per
// toolchain x target_arch x kconfig combination.
type MatrixSpec struct {
	Toolchains   []string       `yaml:"toolchains" json:"toolchains" validate:"required,min=1,dive,required"`
	TargetArches []string       `yaml:"target_arches" json:"target_arches" validate:"required,min=1,dive,required"`
	Kconfigs     []StringList   `yaml:"kconfigs" json:"kconfigs" validate:"required,min=1,dive,min=1"`
	Options      map[string]any `yaml:"options,omitempty" json:"options,omitempty"`
}

// BuildSpec is one kernel build. Keys other than the typed ones are kept
// in Options and sent to the API unchanged.
type BuildSpec struct {
	TargetArch string         `yaml:"target_arch" json:"target_arch" validate:"required"`
	Toolchain  string         `yaml:"toolchain" json:"toolchain" validate:"required"`
	Kconfig    StringList     `yaml:"kconfig,omitempty" json:"kconfig,omitempty"`
	Options    map[string]any `yaml:",inline" json:"options,omitempty" jsonschema:"-"`
}

// BakeSpec is one bitbake build.
type BakeSpec struct {
	Name      string         `yaml:"name,omitempty" json:"name,omitempty"`
	Container string         `yaml:"container,omitempty" json:"container,omitempty"`
	Distro    string         `yaml:"distro,omitempty" json:"distro,omitempty"`
	Envsetup  string         `yaml:"envsetup,omitempty" json:"envsetup,omitempty"`
	Machine   string         `yaml:"machine,omitempty" json:"machine,omitempty"`
	Sources   map[string]any `yaml:"sources,omitempty" json:"sources,omitempty"`
	Target    string         `yaml:"target,omitempty" json:"target,omitempty" validate:"required"`
	Options   map[string]any `yaml:",inline" json:"options,omitempty" jsonschema:"-"`
}

// withDefaults returns b with empty fields filled from common.
func (b BakeSpec) withDefaults(common *BakeSpec) BakeSpec {
	if common == nil {
		return b
	}
	if b.Container == "" {
		b.Container = common.Container
	}
	if b.Distro == "" {
		b.Distro = common.Distro
	}
	if b.Envsetup == "" {
		b.Envsetup = common.Envsetup
	}
	if b.Machine == "" {
		b.Machine = common.Machine
	}
	if b.Target == "" {
		b.Target = common.Target
	}
	if b.Sources == nil {
		b.Sources = common.Sources
	}
	if len(common.Options) > 0 {
		merged := make(map[string]any, len(common.Options)+len(b.Options))
		for k, v := range common.Options {
			merged[k] = v
		}
		for k, v := range b.Options {
			merged[k] = v
		}
		b.Options = merged
	}
	return b
}

// TestSpec is one test run on a device. Kernel is only used when the
// test has no build in its entry.
type TestSpec struct {
	Device  string         `yaml:"device" json:"device" validate:"required"`
	Tests   []string       `yaml:"tests,omitempty" json:"tests,omitempty"`
	Rootfs  string         `yaml:"rootfs,omitempty" json:"rootfs,omitempty"`
	Kernel  string         `yaml:"kernel,omitempty" json:"kernel,omitempty" validate:"omitempty,url"`
	Options map[string]any `yaml:",inline" json:"options,omitempty" jsonschema:"-"`
}

// StringList accepts either a scalar or a sequence of strings.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			*s = nil
			return nil
		}
		*s = StringList{value.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		*s = items
		return nil
	}
	return fmt.Errorf("line %d: expected a string or a list of strings", value.Line)
}

// JSONSchema describes StringList as string-or-array.
func (StringList) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "string"},
			{Type: "array", Items: &jsonschema.Schema{Type: "string"}},
		},
	}
}

func (s StringList) String() string {
	return strings.Join(s, "+")
}
