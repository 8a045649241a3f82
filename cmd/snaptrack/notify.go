package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Send a message or file to the Telegram chat",
}

var notifyMessageCmd = &cobra.Command{
	Use:   "message [text...]",
	Short: "Send an HTML-formatted message",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runNotifyMessage,
}

var notifyFileCmd = &cobra.Command{
	Use:   "file [path]",
	Short: "Upload a file as a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotifyFile,
}

// errNotDelivered is returned when the notifier reports failure; the
// cause is in the log.
var errNotDelivered = errors.New("notification not delivered, see the log for details")

func init() {
	notifyCmd.AddCommand(notifyMessageCmd)
	notifyCmd.AddCommand(notifyFileCmd)
	rootCmd.AddCommand(notifyCmd)
}

func runNotifyMessage(cmd *cobra.Command, args []string) error {
	if err := cfg.ValidateNotify(); err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if !newNotifier(cfg, logs.Logger("notify")).SendMessage(ctx, strings.Join(args, " ")) {
		return errNotDelivered
	}
	printInfo("Message sent.")
	return nil
}

func runNotifyFile(cmd *cobra.Command, args []string) error {
	if err := cfg.ValidateNotify(); err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if !newNotifier(cfg, logs.Logger("notify")).SendFile(ctx, args[0]) {
		return errNotDelivered
	}
	printInfo("File sent: %s", args[0])
	return nil
}
