package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/mattsolo1/tuxplan/pkg/tuxapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanSubmit_Scenario(t *testing.T) {
	client := newFakeClient()
	p := submittedPlan(t, client, "planv1.yaml")

	assert.Equal(t, "my-plan", p.UID)
	assert.Equal(t, "tuxsuite", p.Group)
	assert.Equal(t, "demo", p.Project)
	assert.Equal(t, []string{"create_plan", "submit_builds", "submit_tests"}, client.calls)

	require.Len(t, p.Builds, 11)
	for i, b := range p.Builds {
		assert.Equal(t, fmt.Sprintf("my-build-%02d", i), b.UID)
		assert.Equal(t, "https://storage.example.com/"+b.UID+"/", b.DownloadURL)
	}

	require.Len(t, p.Tests, 21)
	wantWaitingFor := []string{
		"my-build-00", "my-build-01", "my-build-02", "my-build-03", "my-build-04", "my-build-05",
		"my-build-06", "my-build-06",
		"my-build-07", "my-build-07",
		"my-build-08", "my-build-08",
		"my-build-09", "my-build-09",
		"my-build-10",
		"", "", "", "", "", "",
	}
	for i, test := range p.Tests {
		assert.Equal(t, fmt.Sprintf("my-test-%02d", i), test.UID)
		assert.Equal(t, wantWaitingFor[i], test.WaitingFor, "test %d", i)
		assert.Equal(t, wantWaitingFor[i], client.tests[i].WaitingFor, "request %d", i)
		if wantWaitingFor[i] == "" {
			assert.Nil(t, test.Build)
		} else {
			require.NotNil(t, test.Build)
			assert.Equal(t, wantWaitingFor[i], test.Build.UID)
		}
	}
}

func TestPlanSubmit_Requests(t *testing.T) {
	client := newFakeClient()
	submittedPlan(t, client, "planv1.yaml")

	require.Len(t, client.builds, 11)
	for _, b := range client.builds {
		assert.Equal(t, "my-plan", b.Plan)
		assert.Equal(t, "https://git.example.com/linux.git", b.GitRepo)
		assert.Equal(t, "master", b.GitRef)
	}
	assert.Equal(t, "clang-nightly", client.builds[5].Toolchain)
	assert.Equal(t, map[string]any{"kernel_image": "Image.gz"}, client.builds[5].Options)
	assert.Equal(t, []string{"defconfig", "CONFIG_KASAN=y"}, client.builds[4].Kconfig)

	require.Len(t, client.tests, 21)
	for i, req := range client.tests {
		assert.Equal(t, "my-plan", req.Plan)
		if i < 15 {
			assert.Empty(t, req.Kernel, "test %d waits for a build", i)
		} else {
			assert.NotEmpty(t, req.Kernel, "test %d has no build", i)
		}
	}
	assert.Equal(t, "https://storage.example.com/rootfs.ext4.zst", client.tests[7].Rootfs)
}

func TestPlanSubmit_PlanUIDSetBeforeBuilds(t *testing.T) {
	client := newFakeClient()
	cfg := loadFixture(t, "planv1.yaml", PlanConfigOptions{})
	p := NewPlan(client, cfg, SubmitOptions{})
	p.SetLogger(NewDiscardLogger())

	assert.Empty(t, p.UID)
	for _, b := range p.Builds {
		assert.Empty(t, b.UID)
	}
	require.NoError(t, p.Submit(context.Background()))
	for _, b := range client.builds {
		assert.Equal(t, p.UID, b.Plan)
	}
}

func TestPlanSubmit_AlreadySubmitted(t *testing.T) {
	client := newFakeClient()
	p := submittedPlan(t, client, "planv1.yaml")

	err := p.Submit(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
	assert.Len(t, client.calls, 3)
}

func TestPlanSubmit_Failures(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name       string
		setup      func(*fakeClient)
		wantErr    error
		wantCalls  []string
		wantPlan   string
		wantBuilds bool
	}{
		{
			name:      "create plan fails",
			setup:     func(f *fakeClient) { f.createErr = boom },
			wantErr:   boom,
			wantCalls: []string{"create_plan"},
		},
		{
			name:      "build submission fails",
			setup:     func(f *fakeClient) { f.buildsErr = boom },
			wantErr:   boom,
			wantCalls: []string{"create_plan", "submit_builds"},
			wantPlan:  "my-plan",
		},
		{
			name:      "build response too short",
			setup:     func(f *fakeClient) { f.shortBuilds = true },
			wantErr:   tuxapi.ErrResponseMismatch,
			wantCalls: []string{"create_plan", "submit_builds"},
			wantPlan:  "my-plan",
		},
		{
			name:       "test submission fails",
			setup:      func(f *fakeClient) { f.testsErr = boom },
			wantErr:    boom,
			wantCalls:  []string{"create_plan", "submit_builds", "submit_tests"},
			wantPlan:   "my-plan",
			wantBuilds: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient()
			tt.setup(client)
			cfg := loadFixture(t, "planv1.yaml", PlanConfigOptions{})
			p := NewPlan(client, cfg, SubmitOptions{})
			p.SetLogger(NewDiscardLogger())

			err := p.Submit(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantCalls, client.calls)
			assert.Equal(t, tt.wantPlan, p.UID)

			for _, b := range p.Builds {
				assert.Equal(t, tt.wantBuilds, b.UID != "")
			}
			for _, test := range p.Tests {
				assert.Empty(t, test.UID)
			}
		})
	}
}

func TestPlanSubmit_NoTests(t *testing.T) {
	cfg, err := ParsePlanConfig([]byte(`version: 1
jobs:
  - build: {toolchain: gcc-10, target_arch: x86_64, kconfig: tinyconfig}
`), PlanConfigOptions{})
	require.NoError(t, err)

	client := newFakeClient()
	p := NewPlan(client, cfg, SubmitOptions{})
	p.SetLogger(NewDiscardLogger())
	require.NoError(t, p.Submit(context.Background()))

	assert.Equal(t, []string{"create_plan", "submit_builds"}, client.calls)
	require.Len(t, p.Builds, 1)
	assert.Equal(t, "my-build-00", p.Builds[0].UID)
	assert.Empty(t, p.Tests)
}

func TestPlanSubmit_TestsOnly(t *testing.T) {
	cfg, err := ParsePlanConfig([]byte(`version: 1
jobs:
  - tests:
      - {device: qemu-arm64, kernel: "https://storage.example.com/Image"}
      - {device: qemu-x86_64, kernel: "https://storage.example.com/bzImage", tests: [kunit]}
`), PlanConfigOptions{})
	require.NoError(t, err)

	client := newFakeClient()
	p := NewPlan(client, cfg, SubmitOptions{})
	p.SetLogger(NewDiscardLogger())
	require.NoError(t, p.Submit(context.Background()))

	assert.Equal(t, []string{"create_plan", "submit_tests"}, client.calls)
	require.Len(t, client.tests, 2)
	assert.Equal(t, "https://storage.example.com/Image", client.tests[0].Kernel)
	assert.Empty(t, client.tests[0].WaitingFor)
}

func TestPlanSubmit_Bitbake(t *testing.T) {
	client := newFakeClient()
	cfg := loadFixture(t, "bitbake.yaml", PlanConfigOptions{})
	p := NewPlan(client, cfg, SubmitOptions{LocalManifest: "default.xml", NoCache: true})
	p.SetLogger(NewDiscardLogger())
	require.NoError(t, p.Submit(context.Background()))

	assert.Equal(t, []string{"create_plan", "submit_oebuilds"}, client.calls)
	require.Len(t, client.oebuilds, 2)
	first := client.oebuilds[0]
	assert.Equal(t, "my-plan", first.Plan)
	assert.Equal(t, "default.xml", first.LocalManifest)
	assert.True(t, first.NoCache)
	assert.Equal(t, "ubuntu-20.04", first.Container)
	assert.Equal(t, "core-image-minimal", first.Target)
	assert.Equal(t, "sato-arm64", client.oebuilds[1].Name)

	assert.Equal(t, "my-oebuild-00", p.Builds[0].UID)
	assert.Equal(t, "qemux86-64 poky core-image-minimal", p.Builds[0].Label())
}

// planServer emulates the plan, build and test endpoints of the API.
type planServer struct {
	mu       sync.Mutex
	auth     []string
	builds   []map[string]any
	tests    []map[string]any
	planBody map[string]any
}

func (s *planServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = append(s.auth, r.Header.Get("Authorization"))

	const prefix = "/v1/groups/tuxsuite/projects/demo/"
	switch r.URL.Path {
	case prefix + "plans":
		_ = json.NewDecoder(r.Body).Decode(&s.planBody)
		_ = json.NewEncoder(w).Encode(map[string]string{"uid": "my-plan"})
	case prefix + "builds":
		var body struct {
			Builds []map[string]any `json:"builds"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.builds = body.Builds
		resp := make([]map[string]string, len(body.Builds))
		for i := range body.Builds {
			resp[i] = map[string]string{"uid": fmt.Sprintf("my-build-%02d", i)}
		}
		_ = json.NewEncoder(w).Encode(resp)
	case prefix + "tests":
		_ = json.NewDecoder(r.Body).Decode(&s.tests)
		resp := make([]map[string]any, len(s.tests))
		for i, test := range s.tests {
			resp[i] = map[string]any{"uid": fmt.Sprintf("my-test-%02d", i), "waiting_for": test["waiting_for"]}
		}
		_ = json.NewEncoder(w).Encode(resp)
	default:
		http.NotFound(w, r)
	}
}

func TestPlanSubmit_OverHTTP(t *testing.T) {
	server := &planServer{}
	srv := httptest.NewServer(server)
	defer srv.Close()

	client := tuxapi.NewClient(srv.URL, "secret-token", "tuxsuite", "demo", tuxapi.WithHTTPClient(srv.Client()))
	cfg := loadFixture(t, "planv1.yaml", PlanConfigOptions{Name: "over http"})
	p := NewPlan(client, cfg, SubmitOptions{GitRepo: "https://git.example.com/linux.git", GitRef: "v6.1"})
	p.SetLogger(NewDiscardLogger())
	require.NoError(t, p.Submit(context.Background()))

	server.mu.Lock()
	defer server.mu.Unlock()

	assert.Equal(t, []string{"secret-token", "secret-token", "secret-token"}, server.auth)
	assert.Equal(t, "over http", server.planBody["name"])

	require.Len(t, server.builds, 11)
	assert.Equal(t, "Image.gz", server.builds[5]["kernel_image"])
	assert.Equal(t, "v6.1", server.builds[0]["git_ref"])

	require.Len(t, server.tests, 21)
	assert.Equal(t, "my-build-07", server.tests[8]["waiting_for"])
	assert.Equal(t, "my-build-07", server.tests[9]["waiting_for"])
	assert.NotContains(t, server.tests[8], "kernel")
	assert.NotContains(t, server.tests[20], "waiting_for")
	assert.Equal(t, "https://storage.example.com/x86_64/bzImage", server.tests[20]["kernel"])

	assert.Equal(t, "my-build-07", p.Tests[9].WaitingFor)
	assert.Equal(t, "my-test-20", p.Tests[20].UID)
}
