package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/paveg/metabulo"
	"github.com/paveg/metabulo/internal/config"
	"github.com/spf13/cobra"
)

const defaultStoragePath = "metabulo.db"

// app carries the state shared by all subcommands of one invocation.
type app struct {
	cfgFile  string
	dbPath   string
	opencpu  string
	logLevel string
	verbose  bool

	cfg config.Config
	svc *metabulo.Service
}

// execute runs the command line args and closes the service afterwards.
func execute(args []string, stdout, stderr io.Writer) error {
	root, a := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}
	root := &cobra.Command{
		Use:           "metabulo",
		Short:         "Transform metabolomics tables and run PCA",
		Long:          `metabulo stores uploaded CSV tables, lets you mark the role of every row and column, configures imputation, normalization, transformation and scaling, and computes PCA of the resulting measurement table.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.StringVar(&a.cfgFile, "config", "", "config file (yaml or json)")
	f.StringVar(&a.dbPath, "db", "", "SQLite database (overrides storage_path, default "+defaultStoragePath+")")
	f.StringVar(&a.opencpu, "opencpu", "", "OpenCPU base URL (overrides opencpu_url)")
	f.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (overrides log_level)")
	f.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newUploadCmd(a),
		newListCmd(a),
		newShowCmd(a),
		newDeleteCmd(a),
		newLabelCmd(a),
		newSetCmd(a),
		newValidateCmd(a),
		newMeasurementCmd(a),
		newPCACmd(a),
		newOverviewCmd(a),
		newDownloadCmd(a),
		newMethodsCmd(a),
		newReplaceCmd(a),
		newMetaCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root, a
}

func (a *app) close() error {
	if a.svc == nil {
		return nil
	}
	err := a.svc.Close()
	a.svc = nil
	return err
}

// config loads configuration and applies the flag overrides. The result
// becomes the global configuration.
func (a *app) config(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	fl := cmd.Flags()
	if fl.Changed("db") {
		cfg.StoragePath = a.dbPath
	}
	if cfg.StoragePath == "" {
		cfg.StoragePath = defaultStoragePath
	}
	if fl.Changed("opencpu") {
		cfg.OpenCPUURL = a.opencpu
	}
	if fl.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if a.verbose {
		cfg.VerboseLogging = true
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	config.SetGlobalConfig(cfg)
	a.cfg = cfg
	return cfg, nil
}

// service opens the service on first use.
func (a *app) service(cmd *cobra.Command) (*metabulo.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	cfg, err := a.config(cmd)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.Level()}))
	svc, err := metabulo.Open(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", cfg.StoragePath, err)
	}
	a.svc = svc
	return svc, nil
}

// output returns the writer for --output, or stdout when it is empty.
func output(cmd *cobra.Command, path string) (w io.Writer, done func() error, err error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return file, file.Close, nil
}
