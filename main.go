package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ossyrian/bundlr/internal/config"
	"github.com/ossyrian/bundlr/internal/installer"
	"github.com/ossyrian/bundlr/internal/logging"
	"github.com/ossyrian/bundlr/internal/manifest"
	"github.com/ossyrian/bundlr/internal/resource"
	"github.com/ossyrian/bundlr/internal/target"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:          "bundlr",
	Short:        "Install a bundle of files and ZIP/TAR archives into a directory tree",
	SilenceUsage: true,
	RunE:         install,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-output-dir", "", "directory to write log files (if set, logs are written to both stderr and file)")

	// i/o
	rootCmd.Flags().StringP("manifest", "m", "", "path to the bundle manifest (.json, .yaml or .toml)")
	rootCmd.Flags().StringP("root", "r", "", "directory to install the bundle into")

	// install settings
	rootCmd.Flags().Int("concurrency", installer.DefaultConcurrency, "maximum number of ZIP entries written at once")
	rootCmd.Flags().Int("blob-threshold", installer.DefaultBlobThreshold, "payload size in bytes above which files use the large-blob write path")
	rootCmd.Flags().Bool("fast-inflate", true, "use the fast deflate decoder for ZIP entries")
	rootCmd.Flags().Duration("http-timeout", 5*time.Minute, "timeout for fetching a single remote resource")

	// other opts
	rootCmd.Flags().BoolP("verbose", "v", true, "log a line per installed manifest entry")
	rootCmd.Flags().BoolP("progress", "p", false, "print download progress")
	rootCmd.Flags().Bool("dry-run", false, "install into a throwaway directory instead of --root (validation)")

	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_output_dir", rootCmd.PersistentFlags().Lookup("log-output-dir"))
	viper.BindPFlag("manifest", rootCmd.Flags().Lookup("manifest"))
	viper.BindPFlag("root", rootCmd.Flags().Lookup("root"))
	viper.BindPFlag("concurrency", rootCmd.Flags().Lookup("concurrency"))
	viper.BindPFlag("blob_threshold", rootCmd.Flags().Lookup("blob-threshold"))
	viper.BindPFlag("fast_inflate", rootCmd.Flags().Lookup("fast-inflate"))
	viper.BindPFlag("http_timeout", rootCmd.Flags().Lookup("http-timeout"))
	viper.BindPFlag("verbose", rootCmd.Flags().Lookup("verbose"))
	viper.BindPFlag("progress", rootCmd.Flags().Lookup("progress"))
	viper.BindPFlag("dry_run", rootCmd.Flags().Lookup("dry-run"))

	rootCmd.AddCommand(listCmd)
}

// initConfig reads in config file and environment variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "bundlr"))
		}
		viper.AddConfigPath("/etc/bundlr")
		viper.SetConfigName("config")
		viper.SetConfigType("toml")
	}

	viper.SetEnvPrefix("BUNDLR")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// loadConfig unmarshals viper state and sets up logging
func loadConfig() (io.Closer, error) {
	cfg = &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	closer, err := logging.Setup(cfg.LogLevel, cfg.LogOutputDir)
	if err != nil {
		return nil, fmt.Errorf("could not set up logging: %w", err)
	}
	return closer, nil
}

// install loads the manifest and installs it under the configured root
func install(cmd *cobra.Command, args []string) error {
	closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer.Close()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	client := &http.Client{Timeout: cfg.HTTPTimeout}
	bundle, err := manifest.Load(cfg.Manifest, resource.WithHTTPClient(client))
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	root := cfg.Root
	if cfg.DryRun {
		root, err = os.MkdirTemp("", "bundlr-dry-run-*")
		if err != nil {
			return fmt.Errorf("failed to create dry run directory: %w", err)
		}
		defer os.RemoveAll(root)
	}

	opts := []installer.Option{
		installer.WithLogger(slog.Default()),
		installer.WithConcurrency(cfg.Concurrency),
		installer.WithBlobThreshold(cfg.BlobThreshold),
		installer.WithFastInflate(cfg.FastInflate),
		installer.WithVerbose(cfg.Verbose),
	}
	if cfg.Progress {
		opts = append(opts, installer.WithObserver(printProgress(cmd.ErrOrStderr())))
	}
	in := installer.New(target.Logged(target.NewOS(root), slog.Default()), opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	slog.Info("installing bundle", "manifest", cfg.Manifest, "root", root, "entries", len(bundle), "dry_run", cfg.DryRun)
	start := time.Now()
	if err := in.Install(ctx, bundle); err != nil {
		slog.Error(fmt.Sprintf("error installing %s", cfg.Manifest), "error", err)
		return err
	}
	slog.Info("bundle installed", "entries", len(bundle), "elapsed", time.Since(start).Round(time.Millisecond))

	return nil
}

// printProgress renders download events on a single status line
func printProgress(w io.Writer) func(installer.Event) {
	return func(e installer.Event) {
		switch {
		case e.Download != nil && e.Download.Known():
			fmt.Fprintf(w, "\r%s: %s / %s", e.Path,
				humanize.Bytes(uint64(e.Download.Downloaded)),
				humanize.Bytes(uint64(e.Download.Total)))
		case e.Download != nil:
			fmt.Fprintf(w, "\r%s: %s", e.Path, humanize.Bytes(uint64(e.Download.Downloaded)))
		case e.Done:
			fmt.Fprintf(w, "\r%s: done\n", e.Path)
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
