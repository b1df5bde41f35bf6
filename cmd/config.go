package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/user/hostaudit/pkg/adk"
	"github.com/user/hostaudit/pkg/config"
	"github.com/user/hostaudit/pkg/logging"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration (settings, AI provider, model, keys)",
	// Commands that edit the file must work while it is invalid.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		err := setup(cmd, args)
		if err != nil && cmd.Annotations["edits"] == "true" {
			logging.Logger.Warnw("current configuration is invalid", "error", err)
			return nil
		}
		return err
	},
}

var editsFile = map[string]string{"edits": "true"}

// configFile opens the file the config commands edit.
func configFile() (*config.File, error) {
	path := viper.GetString("config")
	if path == "" {
		var err error
		if path, err = config.Path(); err != nil {
			return nil, err
		}
	}
	return config.OpenFile(path)
}

var setKeyCmd = &cobra.Command{
	Use:         "set-key",
	Annotations: editsFile,
	Short:       "Set the API key for a provider",
	RunE: func(cmd *cobra.Command, _ []string) error {
		provider, _ := cmd.Flags().GetString("provider")
		key, _ := cmd.Flags().GetString("key")
		if provider == "" || key == "" {
			return usageError(errors.New("--provider and --key are required"))
		}

		f, err := configFile()
		if err != nil {
			return err
		}
		f.SetAPIKey(strings.ToLower(provider), key)
		if err := f.Save(); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "API key saved for provider: %s\n", provider)
		return nil
	},
}

var setModelCmd = &cobra.Command{
	Use:         "set-model",
	Annotations: editsFile,
	Short:       "Set the active provider and model",
	RunE: func(cmd *cobra.Command, _ []string) error {
		provider, _ := cmd.Flags().GetString("provider")
		model, _ := cmd.Flags().GetString("model")

		f, err := configFile()
		if err != nil {
			return err
		}
		if provider != "" {
			provider = strings.ToLower(provider)
			if !slices.Contains(adk.Providers, provider) {
				return usageError(fmt.Errorf("unknown provider %q (supported: %v)", provider, adk.Providers))
			}
			f.Set("selected_provider", provider)
		}
		if model != "" {
			f.Set("selected_model", model)
		}
		if err := f.Save(); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}
		p, _ := f.Get("selected_provider")
		m, _ := f.Get("selected_model")
		fmt.Fprintf(cmd.OutOrStdout(), "Active configuration updated: Provider=%v, Model=%v\n", p, m)
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:         "set <key> <value>",
	Annotations: editsFile,
	Short:       "Set a setting, e.g. 'config set cloud-agent-policy proportional'",
	Args:        cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, raw := args[0], args[1]
		if strings.HasPrefix(key, "providers.") {
			return usageError(errors.New("use 'config set-key' for API keys"))
		}
		f, err := configFile()
		if err != nil {
			return err
		}

		var value any = raw
		switch {
		case key == "modules" || key == "fix-classes":
			value = strings.Split(raw, ",")
		default:
			if n, err := strconv.Atoi(raw); err == nil {
				value = n
			}
		}
		f.Set(key, value)

		if err := f.Save(); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}
		v := viper.New()
		config.Setup(v, f.Path())
		if _, err := config.Load(v); err != nil {
			return usageError(fmt.Errorf("%s saved but the configuration is now invalid: %w", f.Path(), err))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", key, value)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration (API keys masked)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		out, err := yaml.Marshal(cfg.Redacted())
		if err != nil {
			return err
		}
		if used := viper.ConfigFileUsed(); used != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", used)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var listModelsCmd = &cobra.Command{
	Use:   "list-models",
	Short: "List available models from the configured provider",
	RunE: func(cmd *cobra.Command, _ []string) error {
		provider := cfg.SelectedProvider
		apiKey := apiKeyFor(provider)
		if apiKey == "" {
			return usageError(fmt.Errorf("no API key found for %s; run 'hostaudit config setup'", provider))
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Fetching models for %s...\n", provider)
		p, err := adk.NewProvider(cmd.Context(), provider, apiKey, "")
		if err != nil {
			return fmt.Errorf("initializing provider: %w", err)
		}
		if closer, ok := p.(interface{ Close() }); ok {
			defer closer.Close()
		}
		models, err := p.ListModels(cmd.Context())
		if err != nil {
			return fmt.Errorf("fetching models: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "\nAvailable Models (%s):\n", provider)
		for _, m := range models {
			mark := " "
			if m == cfg.SelectedModel {
				mark = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", mark, m)
		}
		return nil
	},
}

var setupCmd = &cobra.Command{
	Use:         "setup",
	Annotations: editsFile,
	Short:       "Interactive setup wizard for the AI assistant",
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		scanner := bufio.NewScanner(cmd.InOrStdin())
		ask := func(prompt string) string {
			fmt.Fprint(out, prompt)
			if !scanner.Scan() {
				return ""
			}
			return strings.TrimSpace(scanner.Text())
		}

		fmt.Fprintln(out, "hostaudit assistant setup")
		fmt.Fprintln(out, "-------------------------")
		provider := adk.Providers[0]
		fmt.Fprintf(out, "Provider: %s\n", provider)

		apiKey := ask(fmt.Sprintf("\nStep 1: Enter API Key for %s\n> ", provider))
		if apiKey == "" {
			return usageError(errors.New("API key cannot be empty"))
		}

		fmt.Fprintln(out, "\nStep 2: Validating key and fetching available models...")
		var selectedModel string
		p, err := adk.NewProvider(cmd.Context(), provider, apiKey, "")
		if err != nil {
			return fmt.Errorf("initializing provider: %w", err)
		}
		if closer, ok := p.(interface{ Close() }); ok {
			defer closer.Close()
		}
		models, err := p.ListModels(cmd.Context())
		if err != nil || len(models) == 0 {
			fmt.Fprintf(out, "Warning: could not fetch models: %v\n", err)
			selectedModel = ask(fmt.Sprintf("Enter model name (default %s) > ", config.DefaultModel))
			if selectedModel == "" {
				selectedModel = config.DefaultModel
			}
		} else {
			fmt.Fprintf(out, "Retrieved %d models.\n", len(models))
			for i, m := range models {
				fmt.Fprintf(out, "%d. %s\n", i+1, m)
			}
			idx, err := strconv.Atoi(ask("Select Model (number) > "))
			if err != nil || idx < 1 || idx > len(models) {
				fmt.Fprintln(out, "Invalid selection. Using first available model.")
				idx = 1
			}
			selectedModel = models[idx-1]
		}

		fmt.Fprintln(out, "\nStep 3: Saving configuration...")
		f, err := configFile()
		if err != nil {
			return err
		}
		f.Set("selected_provider", provider)
		f.Set("selected_model", selectedModel)
		f.SetAPIKey(provider, apiKey)
		if err := f.Save(); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}

		fmt.Fprintln(out, "-------------------------")
		fmt.Fprintf(out, "Provider: %s\nModel:    %s\n", provider, selectedModel)
		fmt.Fprintln(out, "You can now run 'hostaudit assistant'")
		return nil
	},
}

// apiKeyFor returns the configured key, falling back to GOOGLE_API_KEY for
// gemini.
func apiKeyFor(provider string) string {
	if key := cfg.GetAPIKey(provider); key != "" {
		return key
	}
	if provider == "gemini" {
		return os.Getenv("GOOGLE_API_KEY")
	}
	return ""
}

func init() {
	setKeyCmd.Flags().StringP("provider", "p", "", "Provider (gemini)")
	setKeyCmd.Flags().StringP("key", "k", "", "API Key")

	setModelCmd.Flags().StringP("provider", "p", "", "Provider (gemini)")
	setModelCmd.Flags().StringP("model", "m", "", "Model name")

	configCmd.AddCommand(setKeyCmd)
	configCmd.AddCommand(setModelCmd)
	configCmd.AddCommand(setCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(listModelsCmd)
	configCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(configCmd)
}
