package cmd

import (
	"bufio"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/hostaudit/pkg/adk"
	"github.com/user/hostaudit/pkg/logging"
	"github.com/user/hostaudit/pkg/wrappers"
)

var assistantCmd = &cobra.Command{
	Use:   "assistant",
	Short: "Chat with an AI assistant about this host's audit results",
	Long: `Starts a chat session with the configured AI provider. The assistant can
run audits, explain findings, preview remediation plans and compare with saved
runs. It cannot apply fixes; use 'hostaudit remediate' for that.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()

		providerName := cfg.SelectedProvider
		apiKey := apiKeyFor(providerName)
		if apiKey == "" {
			return usageError(fmt.Errorf("API key for %s not found; run 'hostaudit config setup'", providerName))
		}

		a, err := newApp(nil)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "Connecting to %s (Model: %s)...\n", providerName, cfg.SelectedModel)
		provider, err := adk.NewProvider(ctx, providerName, apiKey, cfg.SelectedModel)
		if err != nil {
			return fmt.Errorf("creating AI provider: %w", err)
		}
		if closer, ok := provider.(interface{ Close() }); ok {
			defer closer.Close()
		}

		ws := &wrappers.Workspace{Auditor: a.session(), Fixes: a.catalog}
		if store, err := openHistory(); err != nil {
			logging.Logger.Warnw("run history unavailable", "path", cfg.HistoryDB, "error", err)
		} else {
			defer func() { _ = store.Close() }()
			ws.History = store
		}

		agent := adk.NewAgent(provider)
		for _, t := range ws.Tools() {
			agent.RegisterTool(t)
		}
		agent.SetSystemPrompt(adk.GetSystemPrompt())

		scanner := bufio.NewScanner(cmd.InOrStdin())
		fmt.Fprintln(out, "\n---------------------------------------------------------")
		fmt.Fprintln(out, "hostaudit assistant ready.")
		fmt.Fprintln(out, "Example: 'How secure is this server?'")
		fmt.Fprintln(out, "Example: 'What would fixing the SSH findings change?'")
		fmt.Fprintln(out, "Type 'quit' or 'exit' to stop.")
		fmt.Fprintln(out, "---------------------------------------------------------")

		for ctx.Err() == nil {
			fmt.Fprint(out, "\n> ")
			if !scanner.Scan() {
				break
			}
			input := scanner.Text()
			if input == "quit" || input == "exit" {
				break
			}
			if input == "" {
				continue
			}

			fmt.Fprint(out, "Assistant thinking... ")
			resp, err := agent.Chat(ctx, input, func(msg string) {
				fmt.Fprintf(out, "\r\033[K[Progress]: %s\nAssistant thinking... ", msg)
			})
			fmt.Fprint(out, "\r\033[K")
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "\n[Assistant]: %s\n", resp)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(assistantCmd)
}
