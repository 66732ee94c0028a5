package tuxapi

import (
	"encoding/json"
	"fmt"
)

// CreatePlanRequest is the body of the create-plan call.
type CreatePlanRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// PlanResource is the remote representation of a created plan.
type PlanResource struct {
	UID         string `json:"uid"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Project     string `json:"project,omitempty"`
}

// BuildRequest is one kernel build in a batched submission.
// Options are builder settings carried through verbatim; the typed
// fields take precedence over an option with the same key.
type BuildRequest struct {
	Plan       string         `json:"plan"`
	GitRepo    string         `json:"git_repo,omitempty"`
	GitRef     string         `json:"git_ref,omitempty"`
	NoCache    bool           `json:"no_cache"`
	TargetArch string         `json:"target_arch"`
	Toolchain  string         `json:"toolchain"`
	Kconfig    []string       `json:"kconfig"`
	Options    map[string]any `json:"-"`
}

// MarshalJSON flattens Options into the request object.
func (r BuildRequest) MarshalJSON() ([]byte, error) {
	type plain BuildRequest
	return mergeOptions(plain(r), r.Options)
}

// OEBuildRequest is one bitbake build in a batched submission.
type OEBuildRequest struct {
	Plan          string         `json:"plan"`
	Name          string         `json:"name,omitempty"`
	LocalManifest string         `json:"local_manifest,omitempty"`
	NoCache       bool           `json:"no_cache"`
	Container     string         `json:"container,omitempty"`
	Distro        string         `json:"distro,omitempty"`
	Envsetup      string         `json:"envsetup,omitempty"`
	Machine       string         `json:"machine,omitempty"`
	Sources       map[string]any `json:"sources,omitempty"`
	Target        string         `json:"target,omitempty"`
	Options       map[string]any `json:"-"`
}

// MarshalJSON flattens Options into the request object.
func (r OEBuildRequest) MarshalJSON() ([]byte, error) {
	type plain OEBuildRequest
	return mergeOptions(plain(r), r.Options)
}

// TestRequest is one test in a batched submission.
type TestRequest struct {
	Plan       string         `json:"plan"`
	Device     string         `json:"device"`
	Tests      []string       `json:"tests,omitempty"`
	Rootfs     string         `json:"rootfs,omitempty"`
	Kernel     string         `json:"kernel,omitempty"`
	WaitingFor string         `json:"waiting_for,omitempty"`
	Options    map[string]any `json:"-"`
}

// MarshalJSON flattens Options into the request object.
func (r TestRequest) MarshalJSON() ([]byte, error) {
	type plain TestRequest
	return mergeOptions(plain(r), r.Options)
}

// BuildResponse is one element of a batched build creation response.
type BuildResponse struct {
	UID         string `json:"uid"`
	DownloadURL string `json:"download_url"`
	State       string `json:"state,omitempty"`
}

// TestResponse is one element of a batched test creation response.
type TestResponse struct {
	UID        string `json:"uid"`
	WaitingFor string `json:"waiting_for,omitempty"`
	State      string `json:"state,omitempty"`
}

// Collection is one paginated collection in a plan status page.
type Collection struct {
	Results []Record `json:"results"`
	Next    *string  `json:"next"`
	Count   int      `json:"count"`
}

// PlanPage is one response of the plan status endpoint. A nil
// collection means the server did not include it.
type PlanPage struct {
	Builds   *Collection `json:"builds,omitempty"`
	Tests    *Collection `json:"tests,omitempty"`
	OEBuilds *Collection `json:"oebuilds,omitempty"`
}

// Cursors are the pagination positions sent with a plan status request.
// A nil cursor is omitted from the query.
type Cursors struct {
	Builds   *string
	Tests    *string
	OEBuilds *string
}

// Record is a raw build, test or oebuild record as returned by the API.
type Record map[string]any

// UID returns the record's uid.
func (r Record) UID() string {
	return r.String("uid")
}

// String returns the value at key formatted as a string, or "" when
// absent or null.
func (r Record) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int returns the numeric value at key, or 0.
func (r Record) Int(key string) int {
	switch v := r[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

func mergeOptions(typed any, options map[string]any) ([]byte, error) {
	base, err := json.Marshal(typed)
	if err != nil {
		return nil, err
	}
	if len(options) == 0 {
		return base, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, err
	}
	merged := make(map[string]any, len(options)+len(fields))
	for k, v := range options {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}
