// Command rtcontour runs contour scripts: it builds a scene of reference
// volumes, structure sets and contours, derives the requested
// representations and reports them.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/chazu/rtcontour/pkg/config"
	"github.com/chazu/rtcontour/pkg/engine"
	"github.com/chazu/rtcontour/pkg/metrics"
	"github.com/chazu/rtcontour/pkg/persist"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// errScriptFailed is returned when a script reports errors.
var errScriptFailed = errors.New("script failed")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rtcontour",
		Short:         "Derive and cache structure contour representations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("format", "text", "report format: text, json or yaml")
	root.AddCommand(newRunCmd(), newListCmd())
	return root
}

// setup loads the configuration and installs the default logger.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	lvl, err := cfg.Level()
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newRunCmd() *cobra.Command {
	var showMetrics bool
	cmd := &cobra.Command{
		Use:   "run SCRIPT",
		Short: "Evaluate a contour script (- reads standard input)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			source, err := readScript(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			eng := engine.NewEngine(
				engine.WithTimeout(cfg.EvalTimeout),
				engine.WithLogger(logger),
				engine.WithMetrics(metrics.NewPrometheus(reg)),
				engine.WithMeshCells(cfg.MeshCells),
				engine.WithDefaults(engine.Defaults{Oversampling: cfg.Oversampling, Decimation: cfg.Decimation}),
			)

			var store *persist.Store
			if cfg.DBPath != "" {
				if store, err = persist.Open(cfg.DBPath); err != nil {
					return err
				}
				defer store.Close()
			}

			result := NewApp(eng, store, logger).Evaluate(cmd.Context(), source)
			if err := writeResult(cmd.OutOrStdout(), mustFormat(cmd), result); err != nil {
				return err
			}
			if showMetrics {
				if err := writeMetrics(cmd.OutOrStdout(), reg); err != nil {
					return err
				}
			}
			if len(result.Errors) > 0 {
				for _, e := range result.Errors {
					logger.Error("script error", "line", e.Line, "msg", e.Message)
				}
				return errScriptFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "print conversion metrics after the report")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List contours saved in CONTOUR_DB_PATH",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			if cfg.DBPath == "" {
				return fmt.Errorf("list: %s_DB_PATH is not set", config.Prefix)
			}
			store, err := persist.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()
			return listContours(cmd.Context(), cmd.OutOrStdout(), store, mustFormat(cmd))
		},
	}
}

// mustFormat returns the --format flag, which is always registered.
func mustFormat(cmd *cobra.Command) string {
	f, _ := cmd.Flags().GetString("format")
	return f
}

func listContours(ctx context.Context, w io.Writer, store *persist.Store, format string) error {
	attrs, err := store.List(ctx)
	if err != nil {
		return err
	}
	if format != "text" {
		return encode(w, format, attrs)
	}
	for _, a := range attrs {
		fmt.Fprintf(w, "%s\t%s\tactive=%s\toversampling=%g\tdecimation=%g\n",
			a.ID, a.Name, a.ActiveRepresentationType, a.OversamplingFactor, a.DecimationFactor)
	}
	return nil
}

func readScript(stdin io.Reader, path string) (string, error) {
	var b []byte
	var err error
	if path == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	return string(b), nil
}

// encode writes v as JSON or YAML.
func encode(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown format %q", format)
}

func writeResult(w io.Writer, format string, r EvalResult) error {
	if format != "text" {
		return encode(w, format, r)
	}
	for _, c := range r.Contours {
		fmt.Fprintf(w, "%s (%s): active=%s representations=%s\n",
			c.Attributes.Name, c.Attributes.StructureName, c.Active, strings.Join(c.Representations, ","))
		if lm := c.Labelmap; lm != nil {
			fmt.Fprintf(w, "  labelmap dims=%v spacing=%v label=%d voxels=%d\n", lm.Dims, lm.Spacing, lm.Label, lm.Voxels)
		}
	}
	for _, m := range r.Meshes {
		fmt.Fprintf(w, "mesh %s: %s %s triangles=%d color=%s\n", m.PartName, m.Contour, m.Representation, m.Triangles, m.Color)
	}
	for _, e := range r.Warnings {
		fmt.Fprintf(w, "warning: %s\n", e.Message)
	}
	for _, e := range r.Errors {
		if e.Line > 0 {
			fmt.Fprintf(w, "error: line %d: %s\n", e.Line, e.Message)
		} else {
			fmt.Fprintf(w, "error: %s\n", e.Message)
		}
	}
	return nil
}

// writeMetrics prints the conversion counters gathered from reg.
func writeMetrics(w io.Writer, reg prometheus.Gatherer) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, l := range m.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}
			sort.Strings(labels)
			value := m.GetCounter().GetValue()
			if h := m.GetHistogram(); h != nil {
				value = float64(h.GetSampleCount())
			}
			fmt.Fprintf(w, "%s{%s} %g\n", mf.GetName(), strings.Join(labels, ","), value)
		}
	}
	return nil
}
