package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"time-value-analyser/occupancy-archive/internal/export"
	"time-value-analyser/occupancy-archive/internal/filter"
	"time-value-analyser/occupancy-archive/internal/model"
	"time-value-analyser/occupancy-archive/internal/series"
	"time-value-analyser/occupancy-archive/internal/sink"
	"time-value-analyser/occupancy-archive/internal/source"
	"time-value-analyser/occupancy-archive/internal/stats"
)

func (a *app) placeFilter() (*filter.Regex, error) {
	f, err := filter.New(a.opts.place)
	if err != nil {
		return nil, usageError(fmt.Errorf("--place: %w", err))
	}
	return f, nil
}

// series assembles the selected sources honoring --since and --place.
func (a *app) series(cmd *cobra.Command) (model.SeriesSet, []source.Source, error) {
	srcs, err := a.sources()
	if err != nil {
		return nil, nil, err
	}
	since, err := a.since()
	if err != nil {
		return nil, nil, err
	}
	places, err := a.placeFilter()
	if err != nil {
		return nil, nil, err
	}
	set, err := series.LoadAll(cmd.Context(), a.store, srcs, since, places)
	if err != nil {
		return nil, nil, err
	}
	return set, srcs, nil
}

// directories returns the newest stored directory of every source. Sources
// without stored metadata get an empty directory.
func (a *app) directories(srcs []source.Source) ([]model.Directory, error) {
	places, err := a.placeFilter()
	if err != nil {
		return nil, err
	}
	dirs := make([]model.Directory, 0, len(srcs))
	for _, src := range srcs {
		dir := model.Directory{SourceID: src.ID(), SourceWebURL: src.WebURL(), Places: map[string]model.Place{}}
		raw, ok, err := a.store.LoadLatestMetadata(src.ID())
		if err != nil {
			return nil, err
		}
		if ok {
			dir, err = src.TransformMetadata(series.Unwrap(src.ID(), raw))
			if err != nil {
				return nil, fmt.Errorf("metadata of %s: %w", src.ID(), err)
			}
		}
		for id := range dir.Places {
			if !places.Empty() && !places.Match(id) {
				delete(dir.Places, id)
			}
		}
		dirs = append(dirs, dir)
	}
	return dirs, nil
}

func newLoadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Print the reconstructed place series",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, srcs, err := a.series(cmd)
			if err != nil {
				return err
			}
			switch a.opts.format {
			case "json":
				return export.WriteRowsJSON(a.stdout, export.Rows(set))
			case "csv":
				return export.WriteRowsCSV(a.stdout, export.Rows(set))
			case "influxdb":
				dirs, err := a.directories(srcs)
				if err != nil {
					return err
				}
				for _, p := range export.Points(set, dirs) {
					fields := make(map[string]any, len(p.Fields))
					for k, v := range p.Fields {
						fields[k] = v
					}
					line := write.PointToLineProtocol(influxdb2.NewPoint(p.Measurement, p.Tags, fields, p.Timestamp), time.Second)
					if _, err := fmt.Fprint(a.stdout, line); err != nil {
						return err
					}
				}
				return nil
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PLACE\tTIMESTAMP\tNUM_FREE")
			for _, r := range export.Rows(set) {
				v := "-"
				if r.NumFree != nil {
					v = strconv.Itoa(*r.NumFree)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", r.PlaceID, r.Timestamp.UTC().Format(time.RFC3339), v)
			}
			return tw.Flush()
		},
	}
}

func newLoadMetaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "load-meta",
		Short: "Print the newest stored place directory of every source",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srcs, err := a.sources()
			if err != nil {
				return err
			}
			dirs, err := a.directories(srcs)
			if err != nil {
				return err
			}
			switch a.opts.format {
			case "json":
				return writeJSON(a.stdout, dirs)
			case "csv":
				cw := csv.NewWriter(a.stdout)
				_ = cw.Write([]string{"source_id", "place_id", "place_name", "city_name", "address", "num_all", "lat", "lon", "place_url"})
				for _, d := range dirs {
					for _, p := range sortedPlaces(d) {
						lat, lon := "", ""
						if p.Coordinates != nil {
							lat = strconv.FormatFloat(p.Coordinates.Lat, 'f', -1, 64)
							lon = strconv.FormatFloat(p.Coordinates.Lon, 'f', -1, 64)
						}
						_ = cw.Write([]string{d.SourceID, p.PlaceID, p.PlaceName, p.CityName, p.Address, intString(p.NumAll), lat, lon, p.PlaceURL})
					}
				}
				cw.Flush()
				return cw.Error()
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PLACE\tNAME\tCITY\tNUM_ALL")
			for _, d := range dirs {
				for _, p := range sortedPlaces(d) {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.PlaceID, p.PlaceName, p.CityName, intString(p.NumAll))
				}
			}
			return tw.Flush()
		},
	}
}

func sortedPlaces(d model.Directory) []model.Place {
	ids := make([]string, 0, len(d.Places))
	for id := range d.Places {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]model.Place, len(ids))
	for i, id := range ids {
		out[i] = d.Places[id]
	}
	return out
}

func intString(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func newLoadStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "load-stats",
		Short: "Print per-place statistics of the reconstructed series",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, _, err := a.series(cmd)
			if err != nil {
				return err
			}
			all := stats.Set(set)
			switch a.opts.format {
			case "json":
				return export.WriteStatsJSON(a.stdout, all)
			case "csv":
				return export.WriteStatsCSV(a.stdout, all)
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PLACE\tTIMESTAMPS\tCHANGES\tABS_CHANGES\tAVERAGE\tMIN\tMAX")
			for _, id := range series.PlaceIDs(set) {
				s := all[id]
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\t%s\n", id, s.NumTimestamps, s.NumChanges, s.AbsChanges,
					floatString(s.Average), floatString(s.Min), floatString(s.Max))
			}
			return tw.Flush()
		},
	}
}

func floatString(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print places with their series nested below their source as JSON",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, srcs, err := a.series(cmd)
			if err != nil {
				return err
			}
			dirs, err := a.directories(srcs)
			if err != nil {
				return err
			}
			return writeJSON(a.stdout, export.Hierarchical(dirs, set))
		},
	}
}

func newExportCSVCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export-csv",
		Short: "Write one wide CSV per day below the export root",
		Long: `Without --day every day from the earliest stored snapshot through yesterday
that has not been exported yet is written. With --day that single day is
(re)exported.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := a.location()
			if err != nil {
				return err
			}
			var day *export.Day
			if a.opts.day != "" {
				d, err := export.ParseDay(a.opts.day, a.now(), loc)
				if err != nil {
					return err
				}
				day = &d
			}
			srcs, err := a.sources()
			if err != nil {
				return err
			}
			transformers := make([]series.Transformer, len(srcs))
			for i, s := range srcs {
				transformers[i] = s
			}
			x := &export.DayExporter{
				Archive:  a.store,
				Sources:  transformers,
				Root:     a.cfg.Export.Root,
				Location: loc,
				Log:      a.log,
				Now:      a.now,
			}
			written, err := x.Run(cmd.Context(), day)
			for _, d := range written {
				fmt.Fprintln(a.stdout, x.DayPath(d))
			}
			return err
		},
	}
}

func newToInfluxCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "to-influxdb",
		Short: "Write the reconstructed series to InfluxDB",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Influx.URL == "" {
				return errors.New("influxdb url not configured (influxdb.url or INFLUX_URL)")
			}
			set, srcs, err := a.series(cmd)
			if err != nil {
				return err
			}
			dirs, err := a.directories(srcs)
			if err != nil {
				return err
			}
			s, err := sink.NewInflux(a.cfg.Influx)
			if err != nil {
				return err
			}
			defer s.Close()
			points := export.Points(set, dirs)
			if err := sink.PushAll(cmd.Context(), []sink.Sink{s}, points, a.log); err != nil {
				return err
			}
			a.log.Info("pushed points", zap.String("sink", s.Name()), zap.Int("points", len(points)))
			fmt.Fprintf(a.stdout, "wrote %d point(s) to %s\n", len(points), a.cfg.Influx.Bucket)
			a.pushMetrics(cmd.Context())
			return nil
		},
	}
}
