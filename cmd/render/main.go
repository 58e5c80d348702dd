// Package main provides a command line renderer for report templates kept
// in a local directory.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"report_engine/internal/engine"
	"report_engine/internal/provider"
	"report_engine/internal/storage"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Exit codes
const (
	ExitSuccess     = 0
	ExitUsageError  = 1
	ExitRenderError = 3
)

// cliDataSource is the id the --dsn connection is registered under.
const cliDataSource uint = 1

var (
	// Global flags
	verbose bool
	dir     string

	// Render command flags
	format  string
	params  []string
	out     string
	dsn     string
	driver  string
	maxRows int
	timeout time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(ExitUsageError)
		}
		os.Exit(ExitRenderError)
	}
}

var errUsage = errors.New("usage")

var rootCmd = &cobra.Command{
	Use:   "render",
	Short: "Render report templates from a local directory",
	Long: `render fills a YAML report template with rows and parameters and
writes the document in one of the supported formats.

Examples:
  # Render a template with inline rows
  render run sales.yaml --format pdf

  # Query a sqlite database with a parameter
  render run orders.yaml --dsn data.db -p min=500 -f xlsx -o orders.xlsx

  # List template parameters
  render params orders.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run <template>",
	Short: "Render a template",
	Args:  cobra.ExactArgs(1),
	RunE:  runRender,
}

var paramsCmd = &cobra.Command{
	Use:   "params <template>",
	Short: "List the parameters a template declares",
	Args:  cobra.ExactArgs(1),
	RunE:  runParams,
}

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List supported output formats",
	Args:  cobra.NoArgs,
	RunE:  runFormats,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&dir, "dir", "d", ".", "Template directory")

	runCmd.Flags().StringVarP(&format, "format", "f", "pdf", "Output format")
	runCmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Report parameter as name=value (repeatable)")
	runCmd.Flags().StringVarP(&out, "out", "o", "", `Output file, "-" for stdout (default <template>.<ext>)`)
	runCmd.Flags().StringVar(&dsn, "dsn", "", "Data source connection string")
	runCmd.Flags().StringVar(&driver, "driver", "sqlite3", "Data source driver (sqlite3 or postgres)")
	runCmd.Flags().IntVar(&maxRows, "max-rows", 0, "Row cap for report queries, 0 for none")
	runCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Render timeout")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(paramsCmd)
	rootCmd.AddCommand(formatsCmd)
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// newEngine builds an engine over the template directory. pools may be nil.
func newEngine(logger *logrus.Logger, pools *provider.DataSources) (engine.Engine, error) {
	base, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	local, err := storage.NewLocalStorage(base, logger)
	if err != nil {
		return nil, err
	}
	store := storage.Wrap(local, storage.Options{MaxRetries: 1}, nil)

	props := provider.NewProperties(nil, func(name string) (string, bool) {
		if name == engine.MaxRowsProperty && maxRows > 0 {
			return strconv.Itoa(maxRows), true
		}
		return "", false
	})

	deps := engine.Dependencies{
		Directory:  provider.NewDirectory(store, ""),
		Templates:  store,
		Properties: props,
		Logger:     logger,
	}
	if pools != nil {
		deps.Connections = pools
	}
	return engine.New(engine.BackendTemplate, deps)
}

func templateRef(arg string) engine.ReportRef {
	file := filepath.ToSlash(arg)
	name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	return engine.ReportRef{Name: name, File: file}
}

// parseParams turns name=value pairs into typed values. Values are read
// as YAML scalars so numbers and booleans keep their type.
func parseParams(pairs []string) (map[string]any, error) {
	values := make(map[string]any, len(pairs))
	for _, p := range pairs {
		name, raw, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: parameter %q is not name=value", errUsage, p)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil || v == nil {
			v = raw
		}
		if _, isMap := v.(map[string]any); isMap {
			v = raw
		}
		if _, isList := v.([]any); isList {
			v = raw
		}
		values[name] = v
	}
	return values, nil
}

func runRender(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	exportType, err := engine.ParseExportType(format)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	values, err := parseParams(params)
	if err != nil {
		return err
	}

	ref := templateRef(args[0])

	var pools *provider.DataSources
	if dsn != "" {
		db, err := sql.Open(driver, dsn)
		if err != nil {
			return fmt.Errorf("open data source: %w", err)
		}
		pools = provider.NewDataSources(nil, logger)
		pools.Register(cliDataSource, db, driver)
		defer pools.Close()

		id := cliDataSource
		ref.DataSourceID = &id
	}

	eng, err := newEngine(logger, pools)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := eng.Render(ctx, engine.RenderRequest{
		Report:     ref,
		Parameters: values,
		ExportType: exportType,
	})
	if err != nil {
		return err
	}

	target := out
	if target == "" {
		target = ref.Name + "." + exportType.Extension()
	}
	if target == "-" {
		_, err = os.Stdout.Write(res.Content)
		return err
	}
	if err := os.WriteFile(target, res.Content, 0644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	fmt.Fprintf(os.Stderr, "✓ %s written (%s, %d bytes)\n", target, res.ContentType, len(res.Content))
	if verbose {
		fmt.Fprintf(os.Stderr, "  Duration: %v\n", time.Since(start))
	}
	return nil
}

func runParams(cmd *cobra.Command, args []string) error {
	eng, err := newEngine(newLogger(), nil)
	if err != nil {
		return err
	}
	defs, err := eng.ListParameters(cmd.Context(), templateRef(args[0]))
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		fmt.Println("no parameters")
		return nil
	}
	for _, d := range defs {
		line := d.Name
		if d.Type != "" {
			line += " (" + d.Type + ")"
		}
		if d.Required {
			line += " required"
		}
		if d.Default != nil {
			line += fmt.Sprintf(" default=%v", d.Default)
		}
		if d.Label != "" {
			line += "  " + d.Label
		}
		fmt.Println(line)
	}
	return nil
}

func runFormats(_ *cobra.Command, _ []string) error {
	eng, err := newEngine(newLogger(), nil)
	if err != nil {
		return err
	}
	for _, f := range eng.Formats() {
		ct, _ := engine.ContentType(f)
		fmt.Printf("%-14s .%-5s %s\n", f, f.Extension(), ct)
	}
	return nil
}
