package orchestration

import (
	"context"
	"fmt"

	"github.com/mattsolo1/tuxplan/pkg/tuxapi"
)

// APIClient is the subset of the API used by a Plan.
type APIClient interface {
	Group() string
	Project() string
	CreatePlan(ctx context.Context, req tuxapi.CreatePlanRequest) (*tuxapi.PlanResource, error)
	SubmitBuilds(ctx context.Context, builds []tuxapi.BuildRequest) ([]tuxapi.BuildResponse, error)
	SubmitOEBuilds(ctx context.Context, builds []tuxapi.OEBuildRequest) ([]tuxapi.BuildResponse, error)
	SubmitTests(ctx context.Context, tests []tuxapi.TestRequest) ([]tuxapi.TestResponse, error)
	GetPlanPage(ctx context.Context, planUID string, cursors tuxapi.Cursors) (*tuxapi.PlanPage, error)
}

// SubmitOptions is the context shared by every build of a submission.
type SubmitOptions struct {
	GitRepo       string
	GitRef        string
	LocalManifest string
	NoCache       bool
}

// Plan tracks one submitted plan. Builds and Tests are index-aligned with
// the flattened builds and tests of Config and are only written by Submit.
type Plan struct {
	UID     string
	Group   string
	Project string
	Kind    PlanKind
	Config  *PlanConfig
	Builds  []*Build
	Tests   []*Test

	client  APIClient
	options SubmitOptions
	logger  Logger
}

// NewPlan prepares cfg for submission. Builds and tests are created
// without uids.
func NewPlan(client APIClient, cfg *PlanConfig, opts SubmitOptions) *Plan {
	p := &Plan{
		Group:   client.Group(),
		Project: client.Project(),
		Kind:    cfg.Kind,
		Config:  cfg,
		client:  client,
		options: opts,
		logger:  NewDefaultLogger(),
	}

	for i := range cfg.Entries {
		entry := &cfg.Entries[i]
		var build *Build
		if entry.HasBuild() {
			build = &Build{Entry: i, Spec: entry.Build, Bake: entry.Bake}
			p.Builds = append(p.Builds, build)
		}
		for _, spec := range entry.Tests {
			p.Tests = append(p.Tests, &Test{Entry: i, Spec: spec, Build: build})
		}
	}
	return p
}

// SetLogger sets a custom logger.
func (p *Plan) SetLogger(logger Logger) {
	p.logger = logger
}

// Submit creates the remote plan, then submits all builds in one call and
// all tests in one call. Tests are only sent once every build has a uid.
// A failure leaves the plan partially submitted; nothing is retried.
func (p *Plan) Submit(ctx context.Context) error {
	if p.UID != "" {
		return fmt.Errorf("submit %s: %w", p.UID, ErrAlreadySubmitted)
	}

	res, err := p.client.CreatePlan(ctx, tuxapi.CreatePlanRequest{
		Name:        p.Config.Name,
		Description: p.Config.Description,
	})
	if err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	p.UID = res.UID
	p.logger.Info("Created plan", "plan", p.UID, "builds", len(p.Builds), "tests", len(p.Tests))

	if err := p.submitBuilds(ctx); err != nil {
		return err
	}
	return p.submitTests(ctx)
}

func (p *Plan) submitBuilds(ctx context.Context) error {
	if len(p.Builds) == 0 {
		return nil
	}

	var (
		resp []tuxapi.BuildResponse
		err  error
	)
	if p.Kind == PlanKindBitbake {
		resp, err = p.client.SubmitOEBuilds(ctx, p.oebuildRequests())
	} else {
		resp, err = p.client.SubmitBuilds(ctx, p.buildRequests())
	}
	if err != nil {
		return fmt.Errorf("submit builds for plan %s: %w", p.UID, err)
	}
	if len(resp) != len(p.Builds) {
		return fmt.Errorf("submit builds for plan %s: sent %d, got %d: %w", p.UID, len(p.Builds), len(resp), tuxapi.ErrResponseMismatch)
	}

	for i, r := range resp {
		p.Builds[i].UID = r.UID
		p.Builds[i].DownloadURL = r.DownloadURL
	}
	p.logger.Debug("Submitted builds", "plan", p.UID, "count", len(resp))
	return nil
}

func (p *Plan) submitTests(ctx context.Context) error {
	if len(p.Tests) == 0 {
		return nil
	}

	reqs := make([]tuxapi.TestRequest, len(p.Tests))
	for i, t := range p.Tests {
		if t.Build != nil {
			t.WaitingFor = t.Build.UID
		}
		reqs[i] = tuxapi.TestRequest{
			Plan:       p.UID,
			Device:     t.Spec.Device,
			Tests:      t.Spec.Tests,
			Rootfs:     t.Spec.Rootfs,
			WaitingFor: t.WaitingFor,
			Options:    t.Spec.Options,
		}
		if t.Build == nil {
			reqs[i].Kernel = t.Spec.Kernel
		}
	}

	resp, err := p.client.SubmitTests(ctx, reqs)
	if err != nil {
		return fmt.Errorf("submit tests for plan %s: %w", p.UID, err)
	}
	if len(resp) != len(p.Tests) {
		return fmt.Errorf("submit tests for plan %s: sent %d, got %d: %w", p.UID, len(p.Tests), len(resp), tuxapi.ErrResponseMismatch)
	}

	for i, r := range resp {
		p.Tests[i].UID = r.UID
	}
	p.logger.Debug("Submitted tests", "plan", p.UID, "count", len(resp))
	return nil
}

func (p *Plan) buildRequests() []tuxapi.BuildRequest {
	reqs := make([]tuxapi.BuildRequest, len(p.Builds))
	for i, b := range p.Builds {
		reqs[i] = tuxapi.BuildRequest{
			Plan:       p.UID,
			GitRepo:    p.options.GitRepo,
			GitRef:     p.options.GitRef,
			NoCache:    p.options.NoCache,
			TargetArch: b.Spec.TargetArch,
			Toolchain:  b.Spec.Toolchain,
			Kconfig:    append([]string{}, b.Spec.Kconfig...),
			Options:    b.Spec.Options,
		}
	}
	return reqs
}

func (p *Plan) oebuildRequests() []tuxapi.OEBuildRequest {
	reqs := make([]tuxapi.OEBuildRequest, len(p.Builds))
	for i, b := range p.Builds {
		reqs[i] = tuxapi.OEBuildRequest{
			Plan:          p.UID,
			Name:          b.Bake.Name,
			LocalManifest: p.options.LocalManifest,
			NoCache:       p.options.NoCache,
			Container:     b.Bake.Container,
			Distro:        b.Bake.Distro,
			Envsetup:      b.Bake.Envsetup,
			Machine:       b.Bake.Machine,
			Sources:       b.Bake.Sources,
			Target:        b.Bake.Target,
			Options:       b.Bake.Options,
		}
	}
	return reqs
}
