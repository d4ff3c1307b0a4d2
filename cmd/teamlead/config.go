package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/teamlead/internal/config"
)

var configYAML bool

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify teamlead configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/teamlead/config.yaml
Project-specific overrides can be placed in .teamlead.yaml`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch len(args) {
		case 0:
			return displayAllConfig(out, cfg, configYAML)
		case 1:
			return displayConfigKey(out, cfg, args[0])
		default:
			if err := cfg.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := config.Save(cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintf(out, "Set %s = %s\n", args[0], args[1])
			return nil
		}
	},
}

func init() {
	configCmd.Flags().BoolVar(&configYAML, "yaml", false, "Print the configuration as YAML")
}

// displaySettings masks secrets.
func displaySettings(cfg *config.Config) map[string]any {
	settings := cfg.Settings()
	key, _ := config.GetAPIKey(cfg)
	settings["anthropic.api_key"] = config.MaskAPIKey(key)
	return settings
}

// displayAllConfig prints all configuration values.
func displayAllConfig(w io.Writer, cfg *config.Config, asYAML bool) error {
	settings := displaySettings(cfg)
	if asYAML {
		return writeYAML(w, nest(settings))
	}

	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s: %v\n", k, settings[k])
	}
	return nil
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(w io.Writer, cfg *config.Config, key string) error {
	value, ok := displaySettings(cfg)[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	fmt.Fprintln(w, value)
	return nil
}

// nest turns dot-notation keys into the nested layout of config.yaml.
func nest(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, value := range flat {
		section, field, ok := strings.Cut(key, ".")
		if !ok {
			out[key] = value
			continue
		}
		m, _ := out[section].(map[string]any)
		if m == nil {
			m = make(map[string]any)
			out[section] = m
		}
		m[field] = value
	}
	return out
}

