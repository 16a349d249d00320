// Package main provides adhan, a terminal client that prints the prayer
// schedule and a live countdown to the next prayer.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/opentaqwa/opentaqwa/internal/bootstrap"
	"github.com/opentaqwa/opentaqwa/internal/config"
	"github.com/opentaqwa/opentaqwa/internal/engine"
	"github.com/opentaqwa/opentaqwa/internal/location"
)

// Output formats accepted by --output.
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

var errUnknownOutput = errors.New("unknown output format")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1) //nolint:gocritic // stop only releases the signal handler
	}
}

type rootOptions struct {
	lat, lon float64
	tz       string
	verbose  bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "adhan",
		Short:         "Prayer times and countdown to the next prayer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Float64Var(&opts.lat, "lat", 0, "latitude (default: LOCATION_LAT or London)")
	root.PersistentFlags().Float64Var(&opts.lon, "lon", 0, "longitude (default: LOCATION_LON or London)")
	root.PersistentFlags().StringVar(&opts.tz, "tz", "", "IANA time zone (default: LOCATION_TZ)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log pipeline activity to stderr")

	root.AddCommand(newNextCmd(opts))
	root.AddCommand(newScheduleCmd(opts))
	root.AddCommand(newWatchCmd(opts))
	return root
}

// loadComponents builds the pipeline from the environment, with flags taking precedence.
func loadComponents(cmd *cobra.Command, opts *rootOptions) (*bootstrap.Components, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("lat") || flags.Changed("lon") {
		if !flags.Changed("lat") || !flags.Changed("lon") {
			return nil, errors.New("--lat and --lon must be set together")
		}
		coord := location.Coordinate{Lat: opts.lat, Lon: opts.lon}
		if err := coord.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s", err, coord)
		}
		cfg.Location.Coordinate = &coord
	}
	if opts.tz != "" {
		cfg.Location.TimeZone = opts.tz
	}

	level := zerolog.WarnLevel
	if opts.verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).
		Level(level).
		With().
		Timestamp().
		Logger()

	return bootstrap.Build(cfg, logger)
}

func newNextCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Print the next prayer and the time left until it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			comps, err := loadComponents(cmd, opts)
			if err != nil {
				return err
			}
			if err := comps.Engine.Refresh(cmd.Context()); err != nil {
				return err
			}

			snap := comps.Engine.Snapshot()
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "%s\n", snap.Place)
			printNext(out, snap, time.Now().In(comps.Location))
			return nil
		},
	}
}

func printNext(w io.Writer, snap engine.Snapshot, now time.Time) {
	next := snap.Next
	day := ""
	if next.Tomorrow(now) {
		day = " tomorrow"
	}
	_, _ = fmt.Fprintf(w, "Next: %s (%s) at %s%s, in %s\n",
		next.DisplayName, next.LocalizedLabel, next.DisplayTime, day, snap.Countdown)
}

func newScheduleCmd(opts *rootOptions) *cobra.Command {
	var output, date string

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Print the five daily prayers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output != outputText && output != outputJSON && output != outputYAML {
				return fmt.Errorf("%w: %q", errUnknownOutput, output)
			}

			comps, err := loadComponents(cmd, opts)
			if err != nil {
				return err
			}

			now := time.Now().In(comps.Location)
			var at time.Time
			if date != "" {
				at, err = time.ParseInLocation(time.DateOnly, date, comps.Location)
				if err != nil {
					return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
				}
			}

			res := comps.Resolver.Resolve(cmd.Context())
			schedule, err := engine.Lookup(cmd.Context(), comps.Fetcher, res.Coordinate, at, now)
			if err != nil {
				return err
			}

			return writeSchedule(cmd.OutOrStdout(), output, res.Place, schedule)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format: text|json|yaml")
	cmd.Flags().StringVar(&date, "date", "", "civil date as YYYY-MM-DD (default: today)")
	return cmd
}

type placedSchedule struct {
	Place           location.PlaceName `json:"place" yaml:"place"`
	engine.Schedule `yaml:",inline"`
}

func writeSchedule(w io.Writer, output string, place location.PlaceName, schedule engine.Schedule) error {
	switch output {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(placedSchedule{Place: place, Schedule: schedule})
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(placedSchedule{Place: place, Schedule: schedule}); err != nil {
			return err
		}
		return enc.Close()
	}

	_, _ = fmt.Fprintf(w, "%s, %s\n\n", place, schedule.Date)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, ev := range schedule.Events {
		marker := ""
		if schedule.Next != nil && schedule.Next.ID == ev.ID {
			marker = "<- next"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ev.DisplayName, ev.LocalizedLabel, ev.DisplayTime, marker)
	}
	return tw.Flush()
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep a live countdown to the next prayer until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			comps, err := loadComponents(cmd, opts)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			updates, unsubscribe := comps.Engine.Subscribe()
			defer unsubscribe()

			runErr := make(chan error, 1)
			go func() { runErr <- comps.Engine.Run(ctx) }()

			return watch(ctx, cmd.OutOrStdout(), updates, comps.Location, runErr)
		},
	}
}

// watch prints a line per countdown change until ctx is done.
func watch(ctx context.Context, w io.Writer, updates <-chan engine.Snapshot, loc *time.Location, runErr <-chan error) error {
	var last string
	for {
		select {
		case <-ctx.Done():
			return <-runErr
		case err := <-runErr:
			return err
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			switch {
			case snap.Status == engine.StatusLoading && !snap.HasSchedule():
				_, _ = fmt.Fprintln(w, "Loading prayer times...")
			case !snap.HasSchedule():
				if snap.Error != "" {
					_, _ = fmt.Fprintln(w, snap.Error)
				}
			default:
				line := fmt.Sprintf("%s %s", snap.Next.ID, snap.Countdown)
				if line == last {
					continue
				}
				last = line
				if snap.Error != "" {
					_, _ = fmt.Fprintf(w, "[stale: %s] ", snap.Error)
				}
				printNext(w, snap, time.Now().In(loc))
			}
		}
	}
}
