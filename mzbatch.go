// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/524D/mzbatch/internal/config"
	"github.com/524D/mzbatch/internal/validate"
)

// Program name and version, recorded in the parameter manifest
const progName = "mzbatch"

var progVersion = `Unknown`

var (
	cfg     *config.Config
	cfgFile string
	verbose bool
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   progName,
	Short: "Batch LC-MS feature pipeline",
	Long: `Validates and repairs the mzML/mzXML files below a working directory,
runs peak detection, grouping, retention time correction, regrouping and
gap filling over them and writes one feature report. Sample classes are
the top-level directories of the working directory.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// mzbatch.yaml is looked up in the working directory argument
		// first, then in the current directory
		var dirs []string
		if len(args) > 0 {
			dirs = append(dirs, args[0])
		}
		c, err := config.Load(cfgFile, append(dirs, ".")...)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		switch {
		case verbose:
			c.Log.Level = "debug"
		case quiet:
			c.Log.Level = "warn"
		}
		if err := c.Validate(); err != nil {
			return err
		}
		if err := config.InitLogger(c.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		cfg = c
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the program version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", progName, progVersion)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config `file` (default mzbatch.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only print warnings and errors")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	validate.SoftwareID, validate.SoftwareVersion = progName, progVersion
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
