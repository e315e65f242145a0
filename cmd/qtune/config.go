package main

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/qtune/pkg/qtune/config"
)

var skipConfig = map[string]string{annotationSkipConfig: "true"}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage qtune configuration settings.

Configuration is loaded from:
  1. --config, when given
  2. $XDG_CONFIG_HOME/qtune/config.yaml (if set)
  3. ~/.config/qtune/config.yaml

Environment variables override config file settings using the QTUNE_ prefix:
  QTUNE_OUTPUT=json
  QTUNE_WORKERS=8
  QTUNE_DAEMON_AUTO_START=true`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the configuration merged from defaults, file and environment.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file",
	Long: `Open the configuration file in your default editor.

The editor is determined by:
  1. $VISUAL environment variable
  2. $EDITOR environment variable
  3. Falls back to 'vi'

If the config file doesn't exist, a default one will be created first.`,
	Args:        cobra.NoArgs,
	Annotations: skipConfig,
	RunE:        runConfigEdit,
}

var configInitCmd = &cobra.Command{
	Use:         "init",
	Short:       "Create default configuration file",
	Args:        cobra.NoArgs,
	Annotations: skipConfig,
	RunE:        runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:         "path",
	Short:       "Show configuration file path",
	Args:        cobra.NoArgs,
	Annotations: skipConfig,
	RunE:        runConfigPath,
}

// flagOnlyKeys are viper keys bound to CLI flags that are not part of the
// configuration file.
var flagOnlyKeys = map[string]bool{
	"quiet":    true,
	"verbose":  true,
	"template": true,
	"register": true,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// runConfigShow displays the current configuration.
func runConfigShow(_ *cobra.Command, _ []string) error {
	if configFile := viper.ConfigFileUsed(); configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			fmt.Printf("# Config file: %s\n", configFile)
		} else {
			fmt.Println("# Config file: (using defaults, no file found)")
		}
	}

	settings := viper.AllSettings()
	for key := range flagOnlyKeys {
		delete(settings, key)
	}
	// Show the resolved paths rather than the empty defaults.
	settings["history"] = mergeSection(settings["history"], map[string]any{"path": cfg.History.Path})
	settings["snapshots"] = mergeSection(settings["snapshots"], map[string]any{"path": cfg.Snapshots.Path})
	settings["daemon"] = mergeSection(settings["daemon"], map[string]any{
		"socket_path": cfg.Daemon.SocketPath,
		"pid_path":    cfg.Daemon.PIDPath,
	})

	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	fmt.Print(string(data))

	if overrides := envOverrides(); len(overrides) > 0 {
		fmt.Println("\n# Environment overrides:")
		for _, o := range overrides {
			fmt.Printf("#   %s\n", o)
		}
	}
	return nil
}

func mergeSection(section any, values map[string]any) map[string]any {
	out, ok := section.(map[string]any)
	if !ok {
		out = make(map[string]any)
	}
	for k, v := range values {
		out[k] = v
	}
	return out
}

// envOverrides lists the QTUNE_ variables set in the environment.
func envOverrides() []string {
	prefix := config.EnvPrefix + "_"
	var out []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, prefix) {
			out = append(out, kv)
		}
	}
	sort.Strings(out)
	return out
}

// configFilePath is --config or the default location.
func configFilePath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.ConfigPath()
}

// runConfigEdit opens the config file in an editor.
func runConfigEdit(_ *cobra.Command, _ []string) error {
	configPath, err := configFilePath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	if cfgFile == "" {
		if _, _, err := config.WriteDefault(); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
	}

	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}

	printVerbose("Opening %s with %s", configPath, editor)

	editorCmd := exec.Command(editor, configPath) //nolint:gosec // the editor is chosen by the user
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor command failed: %w", err)
	}
	return nil
}

// runConfigInit creates a default config file.
func runConfigInit(_ *cobra.Command, _ []string) error {
	path, created, err := config.WriteDefault()
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if !created {
		printInfo("Config file already exists: %s", path)
		printInfo("Use 'qtune config edit' to modify it.")
		return nil
	}
	printInfo("Created default config file: %s", path)
	return nil
}

// runConfigPath displays the config file path.
func runConfigPath(_ *cobra.Command, _ []string) error {
	path, err := configFilePath()
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}
