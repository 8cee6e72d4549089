package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"time-value-analyser/occupancy-archive/internal/capture"
	"time-value-analyser/occupancy-archive/internal/model"
	"time-value-analyser/occupancy-archive/internal/sink"
	"time-value-analyser/occupancy-archive/internal/source"
)

func downloaders(srcs []source.Source) []capture.Downloader {
	out := make([]capture.Downloader, len(srcs))
	for i, s := range srcs {
		out[i] = s
	}
	return out
}

func classFor(meta bool) model.PayloadClass {
	if meta {
		return model.ClassMetadata
	}
	return model.ClassSnapshot
}

// runner returns the capture runner; capture failures go to Loki when it is
// configured.
func (a *app) runner() *capture.Runner {
	opts := []capture.Option{capture.WithLogger(a.log), capture.WithClock(a.now)}
	if a.cfg.Loki.URL != "" {
		opts = append(opts, capture.WithReporter(sink.NewLoki(a.cfg.Loki, a.cfg.HTTP.UserAgent)))
	}
	return capture.New(a.store, opts...)
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the selected sources",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srcs, err := a.sources()
			if err != nil {
				return err
			}
			if a.opts.format == "json" {
				type item struct {
					SourceID string `json:"source_id"`
					WebURL   string `json:"web_url"`
				}
				items := make([]item, len(srcs))
				for i, s := range srcs {
					items[i] = item{SourceID: s.ID(), WebURL: s.WebURL()}
				}
				return writeJSON(a.stdout, items)
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			for _, s := range srcs {
				fmt.Fprintf(tw, "%s\t%s\n", s.ID(), s.WebURL())
			}
			return tw.Flush()
		},
	}
}

func newStoreCmd(a *app, name string, meta bool) *cobra.Command {
	class := classFor(meta)
	return &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("Download %s payloads of the selected sources into the archive", class),
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srcs, err := a.sources()
			if err != nil {
				return err
			}
			cycle, err := a.runner().Capture(cmd.Context(), downloaders(srcs), class)
			a.pushMetrics(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "run %s at %s: %d source(s), %d failed\n",
				cycle.RunID, cycle.Timestamp.Format("2006-01-02T15:04:05Z"), len(cycle.Results), len(cycle.Failed()))
			return nil
		},
	}
}

func newDumpCmd(a *app, name string, meta bool) *cobra.Command {
	class := classFor(meta)
	return &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("Download %s payloads and print them without storing", class),
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srcs, err := a.sources()
			if err != nil {
				return err
			}
			out := map[string]any{}
			for _, res := range a.runner().Download(cmd.Context(), downloaders(srcs), class) {
				if res.Err != nil {
					out[res.SourceID] = capture.ErrorPayload(res.Err, "")
					continue
				}
				out[res.SourceID] = res.Payload
			}
			return writeJSON(a.stdout, out)
		},
	}
}

// testResult is one line of the test command.
type testResult struct {
	SourceID     string `json:"source_id"`
	Places       int    `json:"places"`
	WithValue    int    `json:"with_value"`
	Directory    int    `json:"directory_places"`
	SnapshotErr  string `json:"snapshot_error,omitempty"`
	MetadataErr  string `json:"metadata_error,omitempty"`
	HasDirectory bool   `json:"has_directory"`
}

func newTestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Download and transform every selected source without storing",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srcs, err := a.sources()
			if err != nil {
				return err
			}
			r := a.runner()
			snaps := r.Download(cmd.Context(), downloaders(srcs), model.ClassSnapshot)
			metas := r.Download(cmd.Context(), downloaders(srcs), model.ClassMetadata)

			results := make([]testResult, len(srcs))
			failed := 0
			for i, src := range srcs {
				res := testResult{SourceID: src.ID()}
				if snaps[i].Err != nil {
					res.SnapshotErr = snaps[i].Err.Error()
				} else if obs, err := src.TransformSnapshot(snaps[i].Payload); err != nil {
					res.SnapshotErr = err.Error()
				} else {
					res.Places = len(obs)
					for _, o := range obs {
						if o.NumFree != nil {
							res.WithValue++
						}
					}
				}
				switch {
				case metas[i].Err != nil:
					res.MetadataErr = metas[i].Err.Error()
				case metas[i].Payload != nil:
					dir, err := src.TransformMetadata(metas[i].Payload)
					if err != nil {
						res.MetadataErr = err.Error()
					} else {
						res.HasDirectory = true
						res.Directory = len(dir.Places)
					}
				}
				if res.SnapshotErr != "" || res.MetadataErr != "" {
					failed++
				}
				results[i] = res
			}

			if a.opts.format == "json" {
				if err := writeJSON(a.stdout, results); err != nil {
					return err
				}
			} else {
				tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SOURCE\tPLACES\tWITH VALUE\tDIRECTORY\tERROR")
				for _, r := range results {
					dir := "-"
					if r.HasDirectory {
						dir = fmt.Sprint(r.Directory)
					}
					msg := r.SnapshotErr
					if msg == "" {
						msg = r.MetadataErr
					}
					fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", r.SourceID, r.Places, r.WithValue, dir, msg)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d source(s) failed", failed, len(srcs))
			}
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
