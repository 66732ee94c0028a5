package cmd

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/mattsolo1/tuxplan/pkg/orchestration"
	"github.com/mattsolo1/tuxplan/pkg/state"
	"github.com/mattsolo1/tuxplan/pkg/tuxapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// errPlanFailed is returned when a watched plan ends with failed units.
var errPlanFailed = errors.New("plan finished with failures")

// httpClient is the transport used for API calls and remote plan
// documents. Tests point it at an httptest server.
var httpClient = http.DefaultClient

// newAPIClient creates a client for cfg. A non-nil reg receives the
// client's request metrics.
func newAPIClient(cfg *Config, reg prometheus.Registerer) (*tuxapi.Client, error) {
	if err := cfg.validateAPI(); err != nil {
		return nil, err
	}
	opts := []tuxapi.Option{
		tuxapi.WithHTTPClient(httpClient),
		tuxapi.WithUserAgent(userAgent()),
		tuxapi.WithLogger(logrus.StandardLogger()),
	}
	if reg != nil {
		opts = append(opts, tuxapi.WithMetrics(tuxapi.NewMetrics(reg)))
	}
	return tuxapi.NewClient(cfg.URL, cfg.Token, cfg.Group, cfg.Project, opts...), nil
}

func newPlanLogger() orchestration.Logger {
	return orchestration.NewLogrusLogger(logrus.StandardLogger())
}

// resolvePlanUID returns the uid argument, or the active plan when none
// is given.
func resolvePlanUID(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	uid, err := state.GetActivePlan()
	if err != nil {
		return "", fmt.Errorf("get active plan: %w", err)
	}
	if uid == "" {
		return "", errors.New("no plan uid given and no active plan set")
	}
	return uid, nil
}
