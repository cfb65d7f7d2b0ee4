// Package bluegreen coordinates the two Apps of a blue/green pair.
//
// Every operation starts from the App the job targets, resolves its alter
// ego and works on the (online, offline) pair. Checks run before any cloud
// mutation and fail with an errdefs abort, which workers report as an
// aborted job. Cloud failures after the checks are returned as is.
package bluegreen

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/ghost/pkg/autoscale"
	"github.com/cuemby/ghost/pkg/config"
	"github.com/cuemby/ghost/pkg/errdefs"
	"github.com/cuemby/ghost/pkg/log"
	"github.com/cuemby/ghost/pkg/manifest"
	"github.com/cuemby/ghost/pkg/metrics"
	"github.com/cuemby/ghost/pkg/types"
	"github.com/rs/zerolog"
)

const reasonNotEnabled = "Blue/green is not enabled on this app or not well configured"

// Repository is the part of the application store used by the coordinator
type Repository interface {
	GetApp(id string) (*types.App, error)
	UpdateAutoscale(appID string, min, max, current int) error
	UpdateAMI(appID, ami string, build *types.BuildInfos) error
	CreateAlterEgo(appID, user string) (*types.App, error)
	Promote(targetID string) error
}

// Autoscaler is the autoscaling surface used by the coordinator
type Autoscaler interface {
	Exists(ctx context.Context, name string) (bool, error)
	Instances(ctx context.Context, name string) ([]autoscale.Instance, error)
	DesiredCapacity(ctx context.Context, name string) (int, error)
	LoadBalancers(ctx context.Context, name string) ([]string, error)
	AttachLoadBalancers(ctx context.Context, name string, lbs []string) error
	DetachLoadBalancers(ctx context.Context, name string, lbs []string) error
	CreateLaunchConfig(ctx context.Context, app *types.App, userData string, amiID string) (string, error)
	UpdateGroup(ctx context.Context, app *types.App, launchConfig string, applyParams bool) error
}

// LoadBalancers duplicates and deletes load balancers
type LoadBalancers interface {
	Copy(ctx context.Context, newName, source string, tags map[string]string) (string, error)
	Delete(ctx context.Context, name string) error
}

// Config wires a Coordinator
type Config struct {
	Repo          Repository
	Autoscale     Autoscaler
	LoadBalancers LoadBalancers
	Manifests     manifest.Store
	Settings      *config.Config
}

// Coordinator runs the blue/green commands
type Coordinator struct {
	repo      Repository
	asg       Autoscaler
	lbs       LoadBalancers
	manifests manifest.Store
	cfg       *config.Config
	logger    zerolog.Logger
}

// NewCoordinator creates a coordinator
func NewCoordinator(c Config) *Coordinator {
	cfg := c.Settings
	if cfg == nil {
		cfg = config.Default()
	}
	return &Coordinator{
		repo:      c.Repo,
		asg:       c.Autoscale,
		lbs:       c.LoadBalancers,
		manifests: c.Manifests,
		cfg:       cfg,
		logger:    log.WithComponent("bluegreen"),
	}
}

// WithLogger returns a copy of the coordinator logging to logger
func (c *Coordinator) WithLogger(logger zerolog.Logger) *Coordinator {
	cp := *c
	cp.logger = logger
	return &cp
}

// ResolvePair returns the online and offline Apps of app's pair. It aborts
// when blue/green is not enabled, the alter ego is missing, or the pair does
// not have exactly one online App.
func ResolvePair(repo Repository, app *types.App, logger zerolog.Logger) (online, offline *types.App, err error) {
	bg := app.BlueGreen
	if bg == nil || !bg.Enabled || bg.AlterEgoID == "" {
		return nil, nil, errdefs.Abort(reasonNotEnabled)
	}

	alter, err := repo.GetApp(bg.AlterEgoID)
	if err != nil {
		if errors.Is(err, errdefs.ErrNotFound) {
			logger.Error().Str("alter_ego_id", bg.AlterEgoID).Msg("Alter ego app not found")
			return nil, nil, errdefs.Abort(reasonNotEnabled)
		}
		return nil, nil, err
	}
	if alter.BlueGreen == nil {
		return nil, nil, errdefs.Abort(reasonNotEnabled)
	}

	switch {
	case bg.IsOnline && alter.BlueGreen.IsOnline:
		logger.Error().Str("app_id", app.ID).Str("alter_ego_id", alter.ID).
			Msg("Both blue and green apps are set as online")
		return nil, nil, errdefs.Abort(reasonNotEnabled)
	case bg.IsOnline:
		return app, alter, nil
	case alter.BlueGreen.IsOnline:
		return alter, app, nil
	default:
		logger.Error().Str("app_id", app.ID).Str("alter_ego_id", alter.ID).
			Msg("Neither blue nor green app is set as online")
		return nil, nil, errdefs.Abort(reasonNotEnabled)
	}
}

// Register enables blue/green on an App and returns its alter ego, which is
// created offline with the opposite color when it does not exist yet
func (c *Coordinator) Register(appID, user string) (*types.App, error) {
	if !c.cfg.BlueGreen.Enabled {
		return nil, fmt.Errorf("blue/green is disabled in the configuration")
	}
	twin, err := c.repo.CreateAlterEgo(appID, user)
	if err != nil {
		return nil, fmt.Errorf("failed to register alter ego of %s: %w", appID, err)
	}
	c.logger.Info().Str("app_id", appID).Str("alter_ego_id", twin.ID).
		Str("color", string(twin.Color())).Msg("Blue/green enabled")
	return twin, nil
}

// pair resolves the pair and turns any refusal into an abort prefixed with
// the command's notification header
func (c *Coordinator) pair(app *types.App, action string) (online, offline *types.App, err error) {
	if !c.cfg.BlueGreen.Enabled {
		return nil, nil, c.abort(action, app, "enabled", reasonNotEnabled)
	}
	online, offline, err = ResolvePair(c.repo, app, c.logger)
	if err != nil {
		if errdefs.IsAbort(err) {
			return nil, nil, c.abort(action, app, "enabled", err.Error())
		}
		return nil, nil, err
	}
	return online, offline, nil
}

func (c *Coordinator) abort(action string, app *types.App, gate, reason string) error {
	metrics.BlueGreenAborts.WithLabelValues(gate).Inc()
	c.logger.Warn().Str("gate", gate).Msg(reason)
	return errdefs.Abort("Blue/green %s aborted for [%s] : %s", action, app.FriendlyName(), reason)
}

func (c *Coordinator) failed(action string, online, offline *types.App, err error) error {
	return fmt.Errorf("Blue/green %s failed for [%s] between [%s] and [%s]: %w",
		action, online.FriendlyName(), online.ID, offline.ID, err)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// withAutoscale returns a copy of app carrying its own autoscale descriptor
func withAutoscale(app *types.App, min, max, current int) *types.App {
	cp := *app
	as := types.Autoscale{Min: min, Max: max, Current: current}
	if app.Autoscale != nil {
		as.Name = app.Autoscale.Name
	}
	cp.Autoscale = &as
	return &cp
}
