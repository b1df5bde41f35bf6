// Package cmd defines the command-line interface for hostaudit.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/user/hostaudit/pkg/config"
	"github.com/user/hostaudit/pkg/logging"
	"github.com/user/hostaudit/pkg/report"
	"github.com/user/hostaudit/pkg/ui"
)

// Set by the linker at release time.
var version = "dev"

// cfg holds the validated configuration once PersistentPreRunE ran.
var cfg = &config.Config{}

var rootCmd = &cobra.Command{
	Use:   "hostaudit",
	Short: "Audit a Linux server and remediate findings step by step",
	Long: `hostaudit audits firewall, SSH, updates, containers, processes and cloud
agents, scores the host and walks you through a reviewed remediation plan.
Every changed file is backed up first and failed steps are rolled back.`,
	Version:           version,
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error {
	return &exitError{code: report.ExitUsage, err: err}
}

// exitWith returns nil for code 0 so cobra reports success.
func exitWith(code int) error {
	if code == report.ExitOK {
		return nil
	}
	return &exitError{code: code}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default ~/.hostaudit/config.yaml)")
	rootCmd.PersistentFlags().Int("workers", config.DefaultWorkers, "Number of modules audited concurrently")
	rootCmd.PersistentFlags().Duration("module-timeout", config.DefaultModuleTimeout, "Time limit for one module audit")
	rootCmd.PersistentFlags().String("backup-dir", config.DefaultBackupDir, "Directory holding file snapshots")
	rootCmd.PersistentFlags().String("history-db", "", "SQLite run history (default ~/.hostaudit/history.db)")
	rootCmd.PersistentFlags().String("profiles-dir", config.DefaultProfilesDir, "Directory of YAML check profiles")
	rootCmd.PersistentFlags().Int("management-port", 0, "SSH port to protect during firewall changes (0 = detect)")
	rootCmd.PersistentFlags().StringSlice("modules", nil, "Modules to enable (default all)")
	rootCmd.PersistentFlags().String("color", "auto", "Colored output: auto, always or never")
	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(fmt.Sprintf("binding root flags: %v", err))
	}

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})
}

// initConfig points viper at the config file and the environment.
func initConfig() {
	config.Setup(viper.GetViper(), viper.GetString("config"))
}

// setup initialises logging and validates the merged configuration.
func setup(cmd *cobra.Command, _ []string) error {
	if err := logging.InitLogger(viper.GetBool("debug")); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	loaded, err := config.Load(viper.GetViper())
	if err != nil {
		return usageError(err)
	}
	*cfg = *loaded
	logging.Logger.Debugw("configuration loaded", "file", viper.ConfigFileUsed(), "workers", cfg.Workers)
	return nil
}

// useColor resolves the --color flag against the terminal.
func useColor(f *os.File) bool {
	switch viper.GetString("color") {
	case "always", "yes", "true":
		return true
	case "never", "no", "false":
		return false
	}
	return ui.IsTerminal(f)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer logging.Sync()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return report.ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(os.Stderr, "Error:", ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return report.ExitFailure
}
