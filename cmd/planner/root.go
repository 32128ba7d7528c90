package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"transit-planner/internal/config"
	"transit-planner/internal/controller"
	"transit-planner/internal/logging"
	"transit-planner/internal/models"
	"transit-planner/internal/query"
	"transit-planner/internal/server"
)

// exitGeocode is returned when an address could not be resolved
const exitGeocode = 2

type options struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "planner",
		Short: "Plan public transit journeys against a GraphHopper routing service",
		Long: `planner searches public transit itineraries on a GraphHopper PT routing service.
It serves an interactive web page, answers one-shot queries on the command line
and shows a terminal sidebar for browsing the returned routes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default $HOME/.transit-planner/config.toml)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	cmd.AddCommand(newServeCmd(opts), newRouteCmd(opts), newSidebarCmd(opts))
	return cmd
}

// load reads settings and builds the logger. Interactive commands pass quiet so log
// lines do not mix with their output.
func (o *options) load(quiet bool) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}

	var logger *zap.Logger
	switch {
	case quiet && !o.verbose:
		logger, err = logging.Quiet(cfg.Log.Env)
	default:
		logger, err = logging.New(cfg.Log.Env)
	}
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

// newController builds a standalone controller seeded from params and loads the
// routing capabilities.
func newController(ctx context.Context, cfg config.Config, logger *zap.Logger, params url.Values) (*controller.Controller, error) {
	deps, router, err := server.NewDeps(cfg, logger)
	if err != nil {
		return nil, err
	}

	initial := query.Decode(params, models.DefaultSearchState(time.Now()))
	ctrl := controller.New(deps, initial, controller.Options{
		SessionID: "cli",
		RouteURL:  router.RouteURL(),
	})
	if err := ctrl.Start(ctx); err != nil {
		return nil, fmt.Errorf("routing service at %s is not available: %w", cfg.Routing.BaseURL, err)
	}
	return ctrl, nil
}

func exitCode(err error) int {
	var submitErr *controller.SubmitError
	if errors.As(err, &submitErr) {
		return exitGeocode
	}
	return 1
}
