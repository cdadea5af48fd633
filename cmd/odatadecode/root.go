package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	odata "github.com/nlstn/go-odata-formatter"
)

func newRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "odatadecode [payload.json]",
		Short: "Decode an OData JSON payload against a model",
		Long: `odatadecode reads an OData JSON request payload for the resource addressed
by --path and prints the materialized values as JSON. The payload is read from
the given file, or from stdin when no file is given.

Flags may also be set through ODATADECODE_* environment variables or a config file.`,
		Example: `  odatadecode --model schema.yaml --path 'Things(5)' payload.json
  ODATADECODE_MODEL=schema.yaml odatadecode --path Things --delta < changes.json`,
		Args:          cobra.MaximumNArgs(1),
		Version:       fmt.Sprintf("%s (%s)", Version, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags(), configFile)
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if len(args) == 1 {
				file, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open payload: %w", err)
				}
				defer file.Close()
				in = file
			}
			return decode(cmd.Context(), cfg, in, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	flags.String("model", "", "YAML model file")
	flags.String("path", "", "OData path addressing the payload, e.g. Things(5)")
	flags.String("service-root", "", "service root used to resolve @odata.id and @odata.bind")
	flags.Bool("delta", false, "read the payload as a partial update")
	flags.Bool("untyped", true, "materialize typeless objects")
	flags.Bool("collection", false, "require the payload to be a resource set")
	flags.Int("max-depth", 0, "maximum resource nesting (0 uses the default)")
	flags.BoolP("verbose", "v", false, "log debug output to stderr")

	return cmd
}

func decode(ctx context.Context, cfg *Config, payload io.Reader, out, errOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))

	model, err := os.Open(cfg.Model)
	if err != nil {
		return fmt.Errorf("failed to open model: %w", err)
	}
	defer model.Close()

	f := odata.NewFormatter("", odata.FormatterConfig{MaxDepth: cfg.MaxDepth, ServiceRoot: cfg.ServiceRoot})
	if err := f.SetLogger(logger); err != nil {
		return err
	}
	if err := f.LoadModel(model); err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}

	value, err := f.Read(ctx, payload, odata.Request{Path: cfg.Path}, odata.ReadOptions{
		Delta:      cfg.Delta,
		Untyped:    cfg.Untyped,
		Collection: cfg.Collection,
	})
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
