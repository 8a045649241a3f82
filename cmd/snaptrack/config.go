package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/config"
	"github.com/jamesainslie/snaptrack/pkg/snaptrack/output"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage snaptrack configuration settings.

Configuration is loaded from:
  1. --config, if given
  2. $XDG_CONFIG_HOME/snaptrack/config.yaml

A .env file in the working directory (or --env-file) is loaded first.
Environment variables override file settings using the SNAPTRACK_ prefix,
and the legacy names are still honoured:
  DOWNLOAD_DIR, REPO_URL_WITH_TOKEN, REPO_BRANCH, SNAPCHAT_USERNAME,
  TELEGRAM_BOT_TOKEN, TELEGRAM_CHAT_ID, WEB_USERNAME, WEB_PASSWORD`,
}

var configShowCmd = &cobra.Command{
	Use:         "show",
	Short:       "Show the effective configuration with secrets redacted",
	Annotations: map[string]string{annotationNoLog: "true"},
	RunE:        runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:         "init",
	Short:       "Create a default configuration file",
	Annotations: map[string]string{annotationNoLog: "true"},
	RunE:        runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:         "path",
	Short:       "Show the configuration file path",
	Annotations: map[string]string{annotationNoLog: "true"},
	RunE:        runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	c, err := loadConfig()
	if err != nil {
		return err
	}

	if viper.GetString("output") == "pretty" {
		if c.File != "" {
			printInfo("Config file: %s\n", c.File)
		} else {
			printInfo("Config file: (using defaults, no file found)\n")
		}
	}

	return render(&output.Result{Title: "config", Data: c.Redacted()})
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	path, created, err := config.WriteDefault(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if !created {
		printInfo("Config file already exists: %s", path)
		return nil
	}
	printInfo("Created default config file: %s", path)
	return nil
}

func runConfigPath(cmd *cobra.Command, _ []string) error {
	if cfgFile != "" {
		fmt.Println(cfgFile)
		return nil
	}
	path, err := config.ConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	fmt.Println(path)
	return nil
}
