package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/qtune/pkg/client"
	"github.com/jamesainslie/qtune/pkg/qtune/config"
	"github.com/jamesainslie/qtune/pkg/qtune/logging"
	"github.com/jamesainslie/qtune/pkg/qtune/output"
	"github.com/jamesainslie/qtune/pkg/qtune/registry"
)

// Command annotations read by loadConfig.
const (
	annotationSkipConfig = "qtune/skip-config"
	annotationTUI        = "qtune/tui"
)

// errInvalidDocuments makes the process exit 1 without printing an extra
// error line; the report already explains the failure.
var errInvalidDocuments = errors.New("invalid tuning documents")

var (
	cfgFile   string
	configErr error

	// cfg and reg are set by loadConfig before any command runs.
	cfg *config.Config
	reg *registry.Registry

	rootCmd = &cobra.Command{
		Use:   "qtune",
		Short: "Validate and manage quantization tuning configurations",
		Long: `qtune checks quantization tuning documents against the tuning schema,
shows their effective configuration and keeps snapshots of their history.

Examples:
  qtune validate                   # Validate tuning documents below .
  qtune validate -o json conf/     # JSON report for a directory
  qtune show tune.yaml             # Effective configuration with defaults
  qtune fmt --write tune.yaml      # Rewrite in canonical form
  qtune watch models/              # Live validation view
  qtune --register framework=jax validate tune.yaml`,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/qtune/config.yaml)")
	rootCmd.PersistentFlags().StringP("output", "o", "", "output format: "+strings.Join(output.Available(), ", "))
	rootCmd.PersistentFlags().String("template", "", "Go template for -o template")
	rootCmd.PersistentFlags().IntP("workers", "w", 0, "override worker count (0=auto)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output")
	rootCmd.PersistentFlags().StringSlice("register", nil, "register extension values, e.g. framework=jax,mlx (repeatable)")

	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("template", rootCmd.PersistentFlags().Lookup("template"))
	_ = viper.BindPFlag("workers", rootCmd.PersistentFlags().Lookup("workers"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("register", rootCmd.PersistentFlags().Lookup("register"))
}

// initConfig reads the config file and environment variables.
func initConfig() {
	configErr = config.Setup(viper.GetViper(), cfgFile)
}

// loadConfig decodes the configuration, builds the value registry and
// starts logging. Commands annotated with annotationSkipConfig run without
// a valid configuration.
func loadConfig(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[annotationSkipConfig] == "true" {
		return nil
	}
	if configErr != nil {
		return configErr
	}

	c, err := config.Decode(viper.GetViper())
	if err != nil {
		return err
	}
	r, err := c.Registry()
	if err != nil {
		return err
	}
	for _, spec := range viper.GetStringSlice("register") {
		if err := r.RegisterSpec(spec); err != nil {
			return fmt.Errorf("--register %s: %w", spec, err)
		}
	}
	cfg, reg = c, r

	return initLogging(c, cmd.Annotations[annotationTUI] == "true")
}

// initLogging starts file logging. Verbose runs also log to stderr unless
// a TUI owns the terminal.
func initLogging(c *config.Config, tui bool) error {
	lc, err := c.LoggingConfig()
	if err != nil {
		return err
	}
	if getVerbose() {
		lc.Level = "debug"
		lc.ConsoleLevel = "debug"
	}
	lc.TUIMode = tui
	if err := logging.Init(lc); err != nil {
		// Logging is best effort for the CLI.
		printVerbose("logging disabled: %v", err)
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// daemonPaths returns the daemon locations from the loaded configuration.
func daemonPaths() client.DaemonPaths {
	return client.DaemonPaths{
		Binary: cfg.Daemon.BinaryPath,
		Socket: cfg.Daemon.SocketPath,
		PID:    cfg.Daemon.PIDPath,
		Config: cfgFile,
	}
}

// newFormatter returns the formatter selected with -o.
func newFormatter() (output.Formatter, error) {
	name := viper.GetString("output")
	if name == "" {
		name = config.DefaultOutput
	}
	if name == "template" {
		tmpl := viper.GetString("template")
		if tmpl == "" {
			return nil, errors.New("--template is required with -o template")
		}
		return output.NewTemplateFormatter(tmpl), nil
	}
	f, err := output.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w (available: %s)", err, strings.Join(output.Available(), ", "))
	}
	return f, nil
}

// outputFormat returns the -o value, defaulting to pretty.
func outputFormat() string {
	if name := viper.GetString("output"); name != "" {
		return name
	}
	return config.DefaultOutput
}

// getVerbose returns true if verbose mode is enabled.
func getVerbose() bool {
	return viper.GetBool("verbose")
}

// getQuiet returns true if quiet mode is enabled.
func getQuiet() bool {
	return viper.GetBool("quiet")
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Printf(format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
