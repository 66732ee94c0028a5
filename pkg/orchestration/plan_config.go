package orchestration

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PlanKind tells kernel plans and bitbake plans apart. It is fixed when
// the document is parsed.
type PlanKind string

const (
	PlanKindKernel  PlanKind = "kernel"
	PlanKindBitbake PlanKind = "bitbake"
)

// Entry is one row of an expanded plan: at most one build (or bake) and
// the tests gated on it. Test-only rows have neither. Name is synthesized
// from the build dimensions; JobName is the declaring job's name.
type Entry struct {
	Name    string     `json:"name"`
	JobName string     `json:"job_name,omitempty"`
	Build   *BuildSpec `json:"build,omitempty"`
	Bake    *BakeSpec  `json:"bake,omitempty"`
	Tests   []TestSpec `json:"tests"`
}

// HasBuild reports whether the entry produces a build or a bake.
func (e *Entry) HasBuild() bool {
	return e.Build != nil || e.Bake != nil
}

// PlanConfig is a parsed and expanded plan document. It is not modified
// after construction.
type PlanConfig struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Kind        PlanKind `json:"kind"`
	JobName     string   `json:"job_name,omitempty"`
	Entries     []Entry  `json:"plan"`
}

// BuildCount returns the number of entries with a build or bake.
func (c *PlanConfig) BuildCount() int {
	n := 0
	for i := range c.Entries {
		if c.Entries[i].HasBuild() {
			n++
		}
	}
	return n
}

// TestCount returns the number of tests across all entries.
func (c *PlanConfig) TestCount() int {
	n := 0
	for i := range c.Entries {
		n += len(c.Entries[i].Tests)
	}
	return n
}

// PlanConfigOptions controls how a plan document is located and expanded.
// Source wins over Location when both are set.
type PlanConfigOptions struct {
	Name        string         // Overrides the document name
	Description string         // Overrides the document description
	Source      map[string]any // Inline document
	Location    string         // Local path or http(s) URL
	JobName     string         // Keep only entries with this name
	HTTPClient  *http.Client   // Used for URL locations
}

// LoadPlanConfig resolves the plan document described by opts, then
// parses and expands it.
func LoadPlanConfig(ctx context.Context, opts PlanConfigOptions) (*PlanConfig, error) {
	if opts.Source != nil {
		data, err := yaml.Marshal(opts.Source)
		if err != nil {
			return nil, &InvalidConfigurationError{Source: "inline", Err: err}
		}
		return parsePlanConfig(data, "inline", opts)
	}
	if opts.Location == "" {
		return nil, invalidConfig("", "no plan source given")
	}

	data, err := fetchDocument(ctx, opts.Location, opts.HTTPClient)
	if err != nil {
		return nil, &InvalidConfigurationError{Source: opts.Location, Err: err}
	}
	return parsePlanConfig(data, opts.Location, opts)
}

// ParsePlanConfig parses and expands a YAML or JSON plan document.
func ParsePlanConfig(data []byte, opts PlanConfigOptions) (*PlanConfig, error) {
	return parsePlanConfig(data, "", opts)
}

func parsePlanConfig(data []byte, source string, opts PlanConfigOptions) (*PlanConfig, error) {
	var doc PlanDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, invalidConfig(source, "empty document")
		}
		return nil, &InvalidConfigurationError{Source: source, Err: fmt.Errorf("parse document: %w", err)}
	}

	if doc.Version == nil {
		return nil, invalidConfig(source, "missing version")
	}
	if *doc.Version != SupportedVersion {
		return nil, invalidConfig(source, "unsupported version %d", *doc.Version)
	}

	kind, err := detectKind(&doc)
	if err != nil {
		return nil, &InvalidConfigurationError{Source: source, Err: err}
	}
	if err := validateDocument(&doc); err != nil {
		return nil, &InvalidConfigurationError{Source: source, Err: err}
	}

	entries := expandDocument(&doc, kind)
	if err := validateEntries(entries); err != nil {
		return nil, &InvalidConfigurationError{Source: source, Err: err}
	}

	cfg := &PlanConfig{
		Name:        firstNonEmpty(opts.Name, doc.Name),
		Description: firstNonEmpty(opts.Description, doc.Description),
		Kind:        kind,
		JobName:     opts.JobName,
		Entries:     filterEntries(entries, opts.JobName),
	}
	return cfg, nil
}

func fetchDocument(ctx context.Context, location string, hc *http.Client) ([]byte, error) {
	if u, err := url.Parse(location); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		if hc == nil {
			hc = &http.Client{Timeout: 30 * time.Second}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		resp, err := hc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch document: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("fetch document: unexpected status %d", resp.StatusCode)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read document: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return data, nil
}

func detectKind(doc *PlanDocument) (PlanKind, error) {
	var builds, bakes bool
	for i := range doc.Jobs {
		job := &doc.Jobs[i]
		if job.hasBuilds() && job.hasBakes() {
			return "", fmt.Errorf("jobs[%d]: builds and bakes cannot be mixed", i)
		}
		if job.hasBakes() && len(job.allTests()) > 0 {
			return "", fmt.Errorf("jobs[%d]: bakes cannot carry tests", i)
		}
		builds = builds || job.hasBuilds()
		bakes = bakes || job.hasBakes()
	}
	if builds && bakes {
		return "", fmt.Errorf("plan mixes kernel builds and bakes")
	}
	if bakes {
		return PlanKindBitbake, nil
	}
	return PlanKindKernel, nil
}

// expandDocument flattens jobs into entries. Order is stable: jobs in
// document order; within a job explicit builds first, then the matrix
// with toolchain outermost and kconfig innermost.
func expandDocument(doc *PlanDocument, kind PlanKind) []Entry {
	var entries []Entry
	for i := range doc.Jobs {
		job := &doc.Jobs[i]
		tests := job.allTests()

		if kind == PlanKindBitbake {
			for _, bake := range jobBakes(job) {
				bake := bake.withDefaults(doc.Common)
				entries = append(entries, Entry{
					Name:    firstNonEmpty(bake.Name, bake.Target),
					JobName: job.Name,
					Bake:    &bake,
					Tests:   []TestSpec{},
				})
			}
			continue
		}

		builds := jobBuilds(job)
		if len(builds) == 0 {
			if len(tests) > 0 {
				entries = append(entries, Entry{
					Name:    "tests",
					JobName: job.Name,
					Tests:   tests,
				})
			}
			continue
		}
		for _, build := range builds {
			entries = append(entries, Entry{
				Name:    buildName(&build),
				JobName: job.Name,
				Build:   &build,
				Tests:   copyTests(tests),
			})
		}
	}
	return entries
}

func jobBuilds(job *JobDocument) []BuildSpec {
	var builds []BuildSpec
	if job.Build != nil {
		builds = append(builds, *job.Build)
	}
	builds = append(builds, job.Builds...)

	if m := job.Matrix; m != nil {
		for _, toolchain := range m.Toolchains {
			for _, arch := range m.TargetArches {
				for _, kconfig := range m.Kconfigs {
					builds = append(builds, BuildSpec{
						TargetArch: arch,
						Toolchain:  toolchain,
						Kconfig:    append(StringList(nil), kconfig...),
						Options:    copyOptions(m.Options),
					})
				}
			}
		}
	}
	return builds
}

func jobBakes(job *JobDocument) []BakeSpec {
	var bakes []BakeSpec
	if job.Bake != nil {
		bakes = append(bakes, *job.Bake)
	}
	return append(bakes, job.Bakes...)
}

// buildName synthesizes the job name of a build as "{kconfig}-{toolchain}".
func buildName(b *BuildSpec) string {
	if len(b.Kconfig) == 0 {
		return b.Toolchain
	}
	return b.Kconfig.String() + "-" + b.Toolchain
}

func filterEntries(entries []Entry, jobName string) []Entry {
	if jobName == "" {
		if entries == nil {
			return []Entry{}
		}
		return entries
	}
	kept := []Entry{}
	for _, e := range entries {
		if e.Name == jobName || e.JobName == jobName {
			kept = append(kept, e)
		}
	}
	return kept
}

func copyTests(tests []TestSpec) []TestSpec {
	out := make([]TestSpec, len(tests))
	copy(out, tests)
	return out
}

func copyOptions(options map[string]any) map[string]any {
	if options == nil {
		return nil
	}
	out := make(map[string]any, len(options))
	for k, v := range options {
		out[k] = v
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
