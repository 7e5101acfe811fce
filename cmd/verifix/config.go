package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ShayCichocki/verifix/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `View or modify Verifix configuration.

Configuration is stored at ~/.config/verifix/config.yaml (or under
$XDG_CONFIG_HOME). Project-specific overrides can be placed in .verifix.yaml
in the repository or any parent directory, and every key can be set through
a VERIFIX_<SECTION>_<KEY> environment variable.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		v, err := effectiveViper()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, key := range config.Keys() {
			fmt.Fprintf(out, "%s: %s\n", key, displayValue(key, v.Get(key)))
		}
		cfg, err := config.Load(mustGetwd())
		if err != nil {
			return err
		}
		printCredential(out, cfg)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := strings.ToLower(args[0])
		if !config.IsKnownKey(key) {
			return fmt.Errorf("unknown configuration key: %s", args[0])
		}
		v, err := effectiveViper()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), displayValue(key, v.Get(key)))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a value in the user configuration",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := strings.ToLower(args[0])
		if err := config.Set(key, args[1]); err != nil {
			return err
		}
		// Reject values the loader would refuse on the next run.
		cfg, err := config.Load(mustGetwd())
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		shown := args[1]
		if config.IsSecretKey(key) {
			shown = config.MaskAPIKey(shown)
		}
		printStatus(cmd.OutOrStdout(), "✓", fmt.Sprintf("Set %s = %s", key, shown), color.FgGreen)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file locations",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "user:    %s\n", config.GetUserConfigPath())
		project := config.GetProjectConfigPath(mustGetwd())
		if project == "" {
			project = "(none)"
		}
		fmt.Fprintf(out, "project: %s\n", project)
		fmt.Fprintf(out, "data:    %s\n", config.GetUserDataDir())
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
}

func effectiveViper() (*viper.Viper, error) {
	return config.NewViper(mustGetwd())
}

// displayValue renders a value, masking credentials.
func displayValue(key string, value any) string {
	if config.IsSecretKey(key) {
		s, _ := value.(string)
		return config.MaskAPIKey(os.ExpandEnv(s))
	}
	switch v := value.(type) {
	case []string:
		return strings.Join(v, ",")
	case []any:
		parts := make([]string, len(v))
		for i, p := range v {
			parts[i] = fmt.Sprint(p)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v)
	}
}

// printCredential reports where the active provider's key comes from.
func printCredential(w io.Writer, cfg *config.Config) {
	provider := cfg.Agent.Provider
	cred, err := config.ResolveCredential(cfg)
	if err != nil {
		if source := config.GetAPIKeySource(cfg, provider); source != config.KeySourceNone {
			fmt.Fprintf(w, "\n%s %s credential: invalid (from %s): %v\n", color.RedString("✗"), provider, source, err)
			return
		}
		fmt.Fprintf(w, "\n%s %s credential: not set (%s)\n", color.YellowString("⚠"), provider,
			strings.Join(config.EnvVars(provider), " or "))
		return
	}
	if cred.Source == config.KeySourceAWS {
		fmt.Fprintf(w, "\n%s %s credential: AWS default chain\n", color.GreenString("✓"), provider)
		return
	}
	fmt.Fprintf(w, "\n%s %s credential: %s (from %s)\n", color.GreenString("✓"), provider,
		config.MaskAPIKey(cred.Key), cred.Source)
}

func mustGetwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}
