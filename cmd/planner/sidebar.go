package main

import (
	"github.com/spf13/cobra"

	"transit-planner/internal/tui"
)

func newSidebarCmd(opts *options) *cobra.Command {
	f := &routeFlags{}
	cmd := &cobra.Command{
		Use:   "sidebar",
		Short: "Browse itineraries in a terminal sidebar",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(true)
			if err != nil {
				return err
			}
			defer logger.Sync()

			params, err := f.params()
			if err != nil {
				return err
			}
			ctrl, err := newController(cmd.Context(), cfg, logger, params)
			if err != nil {
				return err
			}

			if err := ctrl.Submit(cmd.Context(), f.submitRequest(ctrl)); err != nil {
				return err
			}
			return tui.Run(cmd.Context(), ctrl)
		},
	}
	cmd.Flags().StringVar(&f.from, "from", "", `origin address or "lat,lon"`)
	cmd.Flags().StringVar(&f.to, "to", "", `destination address or "lat,lon"`)
	cmd.Flags().StringVar(&f.at, "at", "", "departure time, RFC 3339 (default now)")
	cmd.Flags().BoolVar(&f.arrive, "arrive", false, "treat --at as the arrival time")
	cmd.Flags().BoolVar(&f.rangeQuery, "range", false, "search a departure time range")
	cmd.Flags().StringVar(&f.link, "link", "", "planner link to start from")
	return cmd
}
