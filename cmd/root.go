// Package cmd wires the regclean CLI: flag/env/file configuration, the
// engine invocation, and the human summary.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/internal/config"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/internal/engine"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/internal/registry"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/pkg/logger"
)

// Exit codes: 0 clean, 1 fatal configuration/authentication failure,
// 2 run completed but with per-item errors.
const (
	exitOK     = 0
	exitFatal  = 1
	exitErrors = 2
)

var (
	cfgFile string
	cfg     = config.Default()
)

var rootCmd = &cobra.Command{
	Use:   "regclean",
	Short: "Delete container images and tags across registries by policy",
	Long: `regclean discovers container images across GitHub, Gitea, Docker Hub,
generic OCI registries and the local daemon, filters them through a
declarative cleanup policy, and deletes what the policy selects. It runs
as a one-shot batch job; nothing persists between runs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

// Execute runs the CLI and returns the process exit code.
func Execute(version string) int {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		if code, ok := err.(exitCode); ok {
			return int(code)
		}
		logger.Error(err.Error())
		return exitFatal
	}
	return exitOK
}

// exitCode smuggles a non-zero status through cobra's error return.
type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

func init() {
	f := rootCmd.Flags()
	f.StringVar(&cfgFile, "config", "", "policy file (YAML)")
	f.StringVar(&cfg.Backend, "backend", cfg.Backend, "registry backend (auto, github, gitea, dockerhub, oci, daemon)")
	f.StringVar(&cfg.RegistryURL, "registry-url", "", "registry URL, used for backend auto-detection")
	f.StringVar(&cfg.Owner, "owner", "", "package owner (user, org, or namespace)")
	f.StringVar(&cfg.Username, "username", "", "registry username")
	f.StringVar(&cfg.Password, "password", "", "registry password")
	f.StringVar(&cfg.Token, "token", "", "API token")
	f.StringSliceVar(&cfg.Packages, "packages", nil, "package names to clean (globs expand against the enumerated list; empty means all)")
	f.BoolVar(&cfg.DryRun, "dry-run", false, "report the deletion set without deleting")
	f.IntVar(&cfg.KeepNTagged, "keep-n-tagged", 0, "keep only the N most recent tagged images (0 disables)")
	f.IntVar(&cfg.KeepNUntagged, "keep-n-untagged", 0, "keep only the N most recent untagged images (0 disables)")
	f.BoolVar(&cfg.DeleteUntagged, "delete-untagged", false, "delete all untagged images")
	f.StringSliceVar(&cfg.DeleteTags, "delete-tags", nil, "glob patterns of tags to delete")
	f.StringSliceVar(&cfg.ExcludeTags, "exclude-tags", nil, "glob patterns of tags to protect")
	f.StringVar(&cfg.OlderThan, "older-than", "", "only consider images older than this age (e.g. 30d, 2w, 6m, 1y)")
	f.BoolVar(&cfg.DeleteGhost, "delete-ghost-images", false, "delete dangling child references")
	f.BoolVar(&cfg.DeletePartial, "delete-partial-images", false, "delete multi-arch images missing platform variants")
	f.BoolVar(&cfg.DeleteOrphaned, "delete-orphaned-images", false, "delete images reachable by nothing")
	f.BoolVar(&cfg.Validate, "validate", false, "validate multi-arch completeness after deletion")
	f.IntVar(&cfg.Retries, "retries", cfg.Retries, "retry attempts for registry requests")
	f.IntVar(&cfg.Throttle, "throttle", cfg.Throttle, "base backoff delay between retries in milliseconds")
	f.IntVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-request timeout in seconds")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
}

func run(cmd *cobra.Command, _ []string) error {
	// A .env next to the binary is a convenience for local runs; its
	// absence is not an error.
	_ = godotenv.Load()

	// Flags write into cfg during parsing, before the file and env
	// overlays run. Snapshot now so explicitly set flags can be
	// restored on top: precedence is flags > env > file.
	flagVals := *cfg

	if cfgFile != "" {
		if err := cfg.LoadFile(cfgFile); err != nil {
			return err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	cmd.Flags().Visit(func(fl *pflag.Flag) {
		restoreFlag(fl.Name, &flagVals)
	})

	log := logger.GetLogger()
	log.SetLogLevel(cfg.LogLevel)
	log.ConfigureFromEnv()

	if err := cfg.CheckValid(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport := registry.NewTransport(cfg.TransportConfig())
	client, err := registry.NewClient(registry.Backend(cfg.Backend), cfg.RegistryURL, cfg.Credentials(), transport)
	if err != nil {
		return err
	}

	eng, err := engine.New(client, cfg)
	if err != nil {
		return err
	}

	result, runErr := eng.Run(ctx)
	printSummary(result)
	if runErr != nil {
		logger.Error("Run aborted", "error", runErr)
		return exitCode(exitFatal)
	}
	if result.Failed() {
		return exitCode(exitErrors)
	}
	return nil
}

// restoreFlag copies one explicitly set flag value from the snapshot
// back over whatever the file/env overlays wrote.
func restoreFlag(name string, snap *config.Config) {
	switch name {
	case "backend":
		cfg.Backend = snap.Backend
	case "registry-url":
		cfg.RegistryURL = snap.RegistryURL
	case "owner":
		cfg.Owner = snap.Owner
	case "username":
		cfg.Username = snap.Username
	case "password":
		cfg.Password = snap.Password
	case "token":
		cfg.Token = snap.Token
	case "packages":
		cfg.Packages = snap.Packages
	case "dry-run":
		cfg.DryRun = snap.DryRun
	case "keep-n-tagged":
		cfg.KeepNTagged = snap.KeepNTagged
	case "keep-n-untagged":
		cfg.KeepNUntagged = snap.KeepNUntagged
	case "delete-untagged":
		cfg.DeleteUntagged = snap.DeleteUntagged
	case "delete-tags":
		cfg.DeleteTags = snap.DeleteTags
	case "exclude-tags":
		cfg.ExcludeTags = snap.ExcludeTags
	case "older-than":
		cfg.OlderThan = snap.OlderThan
	case "delete-ghost-images":
		cfg.DeleteGhost = snap.DeleteGhost
	case "delete-partial-images":
		cfg.DeletePartial = snap.DeletePartial
	case "delete-orphaned-images":
		cfg.DeleteOrphaned = snap.DeleteOrphaned
	case "validate":
		cfg.Validate = snap.Validate
	case "retries":
		cfg.Retries = snap.Retries
	case "throttle":
		cfg.Throttle = snap.Throttle
	case "timeout":
		cfg.Timeout = snap.Timeout
	case "log-level":
		cfg.LogLevel = snap.LogLevel
	}
}

func printSummary(result *engine.Result) {
	if result == nil {
		return
	}
	fmt.Println()
	if result.DryRun {
		color.Yellow("Dry run: nothing was deleted")
	}
	color.Green("Manifests deleted: %d", result.DeletedManifests)
	color.Green("Tags deleted: %d", len(result.DeletedTags))
	for _, tag := range result.DeletedTags {
		fmt.Printf("  - %s\n", tag)
	}
	color.Blue("Tags kept: %d", len(result.KeptTags))
	if len(result.Errors) > 0 {
		color.Red("Errors: %d", len(result.Errors))
		for _, msg := range result.Errors {
			fmt.Printf("  ! %s\n", msg)
		}
	}
}
