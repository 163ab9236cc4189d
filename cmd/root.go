package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
)

// Version is set at build time via -ldflags
// "-X github.com/kulesh/catsyphon-sub001/cmd.Version=v1.0.0".
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "catsyphon",
	Short: "catsyphon — AI coding-assistant conversation log ingestion",
	Long:  "catsyphon ingests, canonicalizes, and analyzes AI coding-assistant conversation logs (Claude Code, Codex, and similar agent tools) into a queryable Postgres store.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $CATSYPHON_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("catsyphon %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("CATSYPHON_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

// exitCode maps an error's apperr.Kind to the CLI exit code named in §6:
// 0 success / 2 invalid input / 3 duplicate / 4 parse failure / 5 database
// error. Anything else (including a plain Go error with no Kind) exits 1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	switch apperr.KindOf(err) {
	case apperr.InvalidArgument, apperr.UnknownFormat:
		return 2
	case apperr.DuplicateFile:
		return 3
	case apperr.ParseError:
		return 4
	case apperr.Internal, apperr.Transient:
		return 5
	default:
		return 1
	}
}

// Execute runs the root cobra command and exits with the code named by
// §6 for the error the command returned, rather than cobra's default
// blanket exit(1).
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}
