package main

import (
	"github.com/spf13/cobra"

	"github.com/jamesainslie/snaptrack/pkg/daemon"
	"github.com/jamesainslie/snaptrack/pkg/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the download and log directories over HTTP",
	Long: `Start the password-protected web file browser. It lists and serves
the download and log directories and the archives in the working
directory.`,
	Annotations: map[string]string{annotationConsole: "info"},
	RunE:        runServe,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides web.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := cfg.ValidateWeb(); err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	log := logs.Logger("web")

	addr := cfg.Web.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	srv, err := web.New(web.Options{
		Addr:          addr,
		Username:      cfg.Web.Username,
		Password:      cfg.Web.Password,
		DownloadsDir:  cfg.DownloadDir,
		LogsDir:       cfg.LogsDir,
		ArchiveDir:    cfg.WorkDir,
		ArchiveSuffix: cfg.Retention.EphemeralSuffix,
		Logger:        log,
	})
	if err != nil {
		return err
	}

	inst, err := daemon.Acquire(cfg.Daemon.DataDir, daemon.LoopWeb, log)
	if err != nil {
		return err
	}
	defer func() { _ = inst.Release() }()

	return srv.Serve(ctx)
}
