package orchestration

import (
	"fmt"
	"strings"

	"github.com/mattsolo1/tuxplan/pkg/tuxapi"
)

// UnitKind tells builds and tests apart in watch events.
type UnitKind string

const (
	UnitBuild UnitKind = "build"
	UnitTest  UnitKind = "test"
)

// Remote unit states.
const (
	StateQueued       = "queued"
	StateWaiting      = "waiting"
	StateProvisioning = "provisioning"
	StateRunning      = "running"
	StateFinished     = "finished"
)

// Terminal build states, derived from a finished build's statuses.
const (
	StatePass     = "pass"
	StateWarning  = "warning"
	StateFail     = "fail"
	StateError    = "error"
	StateCanceled = "canceled"
)

// Build is one submitted kernel build or bake. Exactly one of Spec and
// Bake is set for builds created from a PlanConfig.
type Build struct {
	UID         string
	DownloadURL string
	Entry       int // Index of the originating entry, -1 when unknown
	Spec        *BuildSpec
	Bake        *BakeSpec
}

// Label is a short human description of the build.
func (b *Build) Label() string {
	switch {
	case b.Spec != nil:
		parts := []string{b.Spec.TargetArch, b.Spec.Toolchain}
		if len(b.Spec.Kconfig) > 0 {
			parts = append(parts, b.Spec.Kconfig.String())
		}
		return strings.Join(parts, " ")
	case b.Bake != nil:
		return strings.TrimSpace(fmt.Sprintf("%s %s %s", b.Bake.Machine, b.Bake.Distro, firstNonEmpty(b.Bake.Name, b.Bake.Target)))
	}
	return b.UID
}

// Test is one submitted test. Build is the build it waits for, nil for
// test-only entries.
type Test struct {
	UID        string
	WaitingFor string
	Entry      int
	Spec       TestSpec
	Build      *Build
}

// Label is a short human description of the test.
func (t *Test) Label() string {
	if len(t.Spec.Tests) == 0 {
		return t.Spec.Device
	}
	return fmt.Sprintf("%s [%s]", t.Spec.Device, strings.Join(t.Spec.Tests, ","))
}

// unitStatus is the (state, result) pair compared between polls.
type unitStatus struct {
	State  string
	Result string
}

// buildStatus maps a build record to the status reported by Watch.
// Finished builds are reported by their outcome instead of "finished".
func buildStatus(kind PlanKind, rec tuxapi.Record) unitStatus {
	state := strings.ToLower(rec.String("state"))
	result := strings.ToLower(rec.String("result"))
	if state != StateFinished {
		return unitStatus{State: state, Result: result}
	}

	if kind == PlanKindBitbake || (rec.String("tuxbuild_status") == "" && rec.String("build_status") == "") {
		if result == "" {
			return unitStatus{State: StateError, Result: result}
		}
		return unitStatus{State: result, Result: result}
	}

	tuxbuild := strings.ToUpper(rec.String("tuxbuild_status"))
	build := strings.ToLower(rec.String("build_status"))
	switch {
	case tuxbuild == "PASS" && build == "pass" && rec.Int("warnings_count") == 0:
		return unitStatus{State: StatePass, Result: result}
	case tuxbuild == "PASS" && build == "pass":
		return unitStatus{State: StateWarning, Result: result}
	case tuxbuild == "PASS":
		return unitStatus{State: StateFail, Result: result}
	case tuxbuild == "CANCELED":
		return unitStatus{State: StateCanceled, Result: result}
	}
	return unitStatus{State: StateError, Result: result}
}

func testStatus(rec tuxapi.Record) unitStatus {
	return unitStatus{
		State:  strings.ToLower(rec.String("state")),
		Result: strings.ToLower(rec.String("result")),
	}
}

// IsTerminalBuildState reports whether a normalized build state is final.
func IsTerminalBuildState(state string) bool {
	switch state {
	case StatePass, StateWarning, StateFail, StateError, StateCanceled, "unknown":
		return true
	}
	return false
}

// IsTerminalTestState reports whether a test state is final.
func IsTerminalTestState(state string) bool {
	return state == StateFinished
}
