package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/config"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/logging"
)

// annotationConsole sets a command's default console log level. Loop
// commands log to the console at info so they can run in the foreground.
const annotationConsole = "console-level"

// annotationNoLog marks commands that never open the log file.
const annotationNoLog = "no-log"

var (
	cfgFile string
	envFile string

	// cfg and logs are set by the root PersistentPreRunE.
	cfg  *config.Config
	logs *logging.Root

	rootCmd = &cobra.Command{
		Use:   "snaptrack",
		Short: "Archive downloaded stories to git and keep the disk in check",
		Long: `snaptrack mirrors a download directory to a remote git repository,
announces new files on Telegram, serves them through a small web UI and
deletes old files when disk usage grows.

Each long-running loop is its own command and process:
  snaptrack monitor     # publish + notify every 10 minutes
  snaptrack janitor     # storage checks every 6 hours, daily cleanup at 02:00
  snaptrack scrape      # run the downloader every 30 minutes
  snaptrack serve       # web file browser

One-shot commands:
  snaptrack publish     # run one publish cycle
  snaptrack cleanup     # run one storage check
  snaptrack status      # loops, storage and manifest
  snaptrack history     # past publishes and sweeps`,
		SilenceUsage:      true,
		PersistentPreRunE: initializeLogging,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if logs != nil {
				err := logs.Close()
				logs = nil
				return err
			}
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/snaptrack/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file (default: ./.env)")
	rootCmd.PersistentFlags().StringP("output", "o", "pretty", "output format (pretty, plain, json, yaml, paths, template)")
	rootCmd.PersistentFlags().String("template", "", "Go template for -o template")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output on the console")

	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("template", rootCmd.PersistentFlags().Lookup("template"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		printError("%v", err)
	}
	if logs != nil {
		_ = logs.Close()
	}
	return err
}

// getVerbose returns true if verbose mode is enabled.
func getVerbose() bool {
	return viper.GetBool("verbose")
}

// getQuiet returns true if quiet mode is enabled.
func getQuiet() bool {
	return viper.GetBool("quiet")
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
