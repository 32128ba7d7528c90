package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"transit-planner/internal/controller"
	"transit-planner/internal/models"
	"transit-planner/internal/query"
)

type routeFlags struct {
	from            string
	to              string
	at              string
	arrive          bool
	rangeQuery      bool
	ignoreTransfers bool
	access          string
	egress          string
	link            string
	jsonOutput      bool
	wait            time.Duration
}

func newRouteCmd(opts *options) *cobra.Command {
	f := &routeFlags{}
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Search itineraries once and print them",
		Example: `  planner route --from "Alexanderplatz, Berlin" --to "52.5069,13.3323"
  planner route --link "http://localhost:8080/?point=...&point=..."`,
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
			return runRoute(cmd.Context(), ctrl, f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&f.from, "from", "", `origin address or "lat,lon"`)
	cmd.Flags().StringVar(&f.to, "to", "", `destination address or "lat,lon"`)
	cmd.Flags().StringVar(&f.at, "at", "", "departure time, RFC 3339 (default now)")
	cmd.Flags().BoolVar(&f.arrive, "arrive", false, "treat --at as the arrival time")
	cmd.Flags().BoolVar(&f.rangeQuery, "range", false, "search a departure time range")
	cmd.Flags().BoolVar(&f.ignoreTransfers, "ignore-transfers", false, "do not minimise the number of transfers")
	cmd.Flags().StringVar(&f.access, "access", "", "access profile (default foot)")
	cmd.Flags().StringVar(&f.egress, "egress", "", "egress profile (default foot)")
	cmd.Flags().StringVar(&f.link, "link", "", "planner link to start from; other flags override it")
	cmd.Flags().BoolVar(&f.jsonOutput, "json", false, "print the route result as JSON")
	cmd.Flags().DurationVar(&f.wait, "wait", time.Minute, "how long to wait for the routing service")
	return cmd
}

// params merges the link, if any, with the explicit flags
func (f *routeFlags) params() (url.Values, error) {
	params := url.Values{}
	if f.link != "" {
		u, err := url.Parse(f.link)
		if err != nil {
			return nil, fmt.Errorf("invalid link: %w", err)
		}
		params = u.Query()
	}

	if f.at != "" {
		t, err := time.Parse(time.RFC3339, f.at)
		if err != nil {
			return nil, fmt.Errorf("invalid --at: %w", err)
		}
		params.Set(query.ParamDepartureTime, t.UTC().Format(time.RFC3339))
	}
	switch {
	case f.rangeQuery:
		params.Set(query.ParamTimeOption, string(models.TimeOptionRange))
	case f.arrive:
		params.Set(query.ParamTimeOption, string(models.TimeOptionArrival))
	}
	if f.ignoreTransfers {
		params.Set(query.ParamIgnoreTransfers, "true")
	}
	if f.access != "" {
		params.Set(query.ParamAccessProfile, f.access)
	}
	if f.egress != "" {
		params.Set(query.ParamEgressProfile, f.egress)
	}
	return params, nil
}

// submitRequest takes each side from its flag, falling back to the side decoded from
// the link so that an address in a link is geocoded too
func (f *routeFlags) submitRequest(ctrl *controller.Controller) controller.SubmitRequest {
	current := ctrl.Snapshot().Search
	req := controller.SubmitRequest{
		From: query.ParseLocation(f.from),
		To:   query.ParseLocation(f.to),
	}
	if req.From.IsNull() {
		req.From = current.From
	}
	if req.To.IsNull() {
		req.To = current.To
	}
	return req
}

func runRoute(ctx context.Context, ctrl *controller.Controller, f *routeFlags, out io.Writer) error {
	if err := ctrl.Submit(ctx, f.submitRequest(ctrl)); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, f.wait)
	defer cancel()
	if err := ctrl.Wait(waitCtx); err != nil {
		return fmt.Errorf("no answer from the routing service: %w", err)
	}

	snap := ctrl.Snapshot()
	if !snap.Search.Resolved() {
		return fmt.Errorf("both --from and --to are required")
	}
	if f.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap.Routes)
	}
	return printRoutes(out, snap)
}

func printRoutes(out io.Writer, snap controller.Snapshot) error {
	routes := snap.Routes
	if routes.IsLastQuerySuccess != nil && !*routes.IsLastQuerySuccess {
		return fmt.Errorf("the routing service rejected the search")
	}
	if len(routes.Paths) == 0 {
		fmt.Fprintln(out, "No routes found.")
		return nil
	}

	for i, p := range routes.Paths {
		marker := " "
		if p.IsSelected {
			marker = "*"
		}
		status := ""
		if !p.IsPossible {
			status = " (not possible)"
		}
		fmt.Fprintf(out, "%s %d. %s - %s  %s  %d transfers%s\n",
			marker, i+1,
			p.DepartureTime().Local().Format("15:04"),
			p.ArrivalTime().Local().Format("15:04"),
			p.Duration().Round(time.Minute),
			p.Transfers, status)
		for _, leg := range p.Legs {
			line := leg.Type
			if leg.TripHeadsign != "" {
				line += " towards " + leg.TripHeadsign
			}
			fmt.Fprintf(out, "      %s %s\n", leg.DepartureTime.Local().Format("15:04"), line)
		}
	}
	fmt.Fprintf(out, "\nLink: %s\n", snap.AppURL)
	return nil
}
