package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/paveg/metabulo"
	"github.com/paveg/metabulo/internal/pipeline"
	"github.com/paveg/metabulo/internal/roles"
	"github.com/paveg/metabulo/internal/validation"
	"github.com/paveg/metabulo/internal/version"
	"github.com/spf13/cobra"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newUploadCmd(a *app) *cobra.Command {
	var (
		name string
		meta []string
	)
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Store a CSV table (or an exported Parquet table) as a new dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			fields, err := parseMeta(meta)
			if err != nil {
				return err
			}
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			if name == "" {
				name = args[0]
			}
			info, err := svc.Upload(cmd.Context(), name, file, fields)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), info.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "dataset name (default: file name)")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "metadata field as key=value (repeatable)")
	return cmd
}

func parseMeta(pairs []string) (map[string]any, error) {
	fields := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --meta %q, expected key=value", p)
		}
		fields[k] = v
	}
	return fields, nil
}

func newReplaceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "replace <id> <file>",
		Short: "Replace the table of a dataset, keeping its pipeline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			file, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer file.Close()

			info, err := svc.Replace(cmd.Context(), args[0], file)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
}

func newMetaCmd(a *app) *cobra.Command {
	var (
		name  string
		meta  []string
		reset bool
	)
	cmd := &cobra.Command{
		Use:   "meta <id>",
		Short: "Rename a dataset or replace its metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			var fields map[string]any
			if len(meta) > 0 || reset {
				if fields, err = parseMeta(meta); err != nil {
					return err
				}
			}
			info, err := svc.SetMeta(cmd.Context(), args[0], name, fields)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "new dataset name")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "metadata field as key=value (repeatable); replaces all fields")
	cmd.Flags().BoolVar(&reset, "clear", false, "remove all metadata fields")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored datasets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			list, err := svc.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "(no datasets)")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tROWS\tCOLUMNS\tCREATED")
			for _, s := range list {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", s.ID, s.Name, s.Rows, s.Columns, s.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a dataset with its roles and pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			info, err := svc.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			return svc.Delete(cmd.Context(), args[0])
		},
	}
}

func newLabelCmd(a *app) *cobra.Command {
	var rowSpecs, columnSpecs []string
	cmd := &cobra.Command{
		Use:   "label <id>",
		Short: "Change row and column roles in one batch",
		Long: `Each --row and --column takes index=role. Row roles: sample, header, metadata, masked.
Column roles: measurement, key, group, metadata, masked. The batch is applied atomically.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes, err := parseChanges(roles.AxisRow, rowSpecs)
			if err != nil {
				return err
			}
			cols, err := parseChanges(roles.AxisColumn, columnSpecs)
			if err != nil {
				return err
			}
			changes = append(changes, cols...)
			if len(changes) == 0 {
				return fmt.Errorf("nothing to change: pass --row or --column")
			}

			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			assignment, err := svc.BatchLabel(cmd.Context(), args[0], changes)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), assignment)
		},
	}
	cmd.Flags().StringArrayVar(&rowSpecs, "row", nil, "row role as index=role (repeatable)")
	cmd.Flags().StringArrayVar(&columnSpecs, "column", nil, "column role as index=role (repeatable)")
	return cmd
}

func parseChanges(axis roles.Axis, specs []string) ([]metabulo.RoleChange, error) {
	changes := make([]metabulo.RoleChange, 0, len(specs))
	for _, spec := range specs {
		idx, role, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("invalid %s change %q, expected index=role", axis, spec)
		}
		i, err := strconv.Atoi(strings.TrimSpace(idx))
		if err != nil {
			return nil, fmt.Errorf("invalid %s index %q: %w", axis, idx, err)
		}
		changes = append(changes, roles.Change{Axis: axis, Index: i, Role: strings.TrimSpace(role)})
	}
	return changes, nil
}

func newSetCmd(a *app) *cobra.Command {
	var methods [len(pipelineFlags)]string
	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Configure the transform pipeline",
		Long:  `Set one or more pipeline stages. Use "none" to disable a stage. Run "metabulo methods" for the available methods.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			ctx, id := cmd.Context(), args[0]

			info, err := svc.Get(ctx, id)
			if err != nil {
				return err
			}
			cfg := info.Pipeline
			changed := false
			for i, pf := range pipelineFlags {
				if cmd.Flags().Changed(pf.name) {
					cfg = cfg.With(pf.stage, methods[i])
					changed = true
				}
			}
			if !changed {
				return fmt.Errorf("nothing to set: pass at least one stage flag")
			}
			if err := svc.SetPipeline(ctx, id, cfg); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cfg)
		},
	}
	for i, pf := range pipelineFlags {
		cmd.Flags().StringVar(&methods[i], pf.name, "", pf.usage)
	}
	return cmd
}

var pipelineFlags = [...]struct {
	name  string
	stage pipeline.Stage
	usage string
}{
	{"mnar", pipeline.ImputationMNAR, "imputation for values missing not at random"},
	{"mcar", pipeline.ImputationMCAR, "imputation for values missing completely at random"},
	{"normalization", pipeline.Normalization, "per-sample normalization"},
	{"transformation", pipeline.Transformation, "element-wise transformation"},
	{"scaling", pipeline.Scaling, "per-column scaling"},
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <id>",
		Short: "Report validation issues",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			issues, err := svc.Validation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(issues) == 0 {
				fmt.Fprintln(out, "no issues")
				return nil
			}
			for _, issue := range issues {
				fmt.Fprintln(out, issue.String())
			}
			if n := len(validation.FatalIssues(issues)); n > 0 {
				return fmt.Errorf("%d fatal issue(s)", n)
			}
			return nil
		},
	}
}

func newMeasurementCmd(a *app) *cobra.Command {
	var format, path string
	cmd := &cobra.Command{
		Use:   "measurement <id>",
		Short: "Export the transformed measurement table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := metabulo.ParseExportFormat(format)
			if err != nil {
				return err
			}
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			w, done, err := output(cmd, path)
			if err != nil {
				return err
			}
			if err := svc.ExportMeasurement(cmd.Context(), args[0], w, f); err != nil {
				_ = done()
				return err
			}
			return done()
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "csv, json or parquet")
	cmd.Flags().StringVarP(&path, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newPCACmd(a *app) *cobra.Command {
	var (
		components int
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "pca <id>",
		Short: "Run PCA on the measurement table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context(), timeout)
			defer cancel()

			res, err := svc.PCA(ctx, args[0], components)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().IntVarP(&components, "components", "k", 0, "number of components (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "overall deadline, including retries")
	return cmd
}

func newOverviewCmd(a *app) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "overview <id>",
		Short: "Render the PCA overview plot as PNG (needs --opencpu)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			img, err := svc.PCAOverview(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w, done, err := output(cmd, path)
			if err != nil {
				return err
			}
			if _, err := w.Write(img); err != nil {
				_ = done()
				return err
			}
			return done()
		},
	}
	cmd.Flags().StringVarP(&path, "output", "o", "pca_overview.png", "output file")
	return cmd
}

func newDownloadCmd(a *app) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "download <id>",
		Short: "Write the raw table as uploaded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			w, done, err := output(cmd, path)
			if err != nil {
				return err
			}
			if err := svc.Download(cmd.Context(), args[0], w); err != nil {
				_ = done()
				return err
			}
			return done()
		},
	}
	cmd.Flags().StringVarP(&path, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newMethodsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "methods [stage]",
		Short: "List the methods of every pipeline stage, or of one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stages := pipeline.Order
			if len(args) == 1 {
				stage, err := pipeline.ParseStage(args[0])
				if err != nil {
					return err
				}
				stages = []pipeline.Stage{stage}
			}
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			methods := svc.Methods()
			for _, stage := range stages {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", stage, strings.Join(methods[stage.String()], ", "))
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprint(cmd.OutOrStdout(), version.Info().String())
		},
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
