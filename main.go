package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"inkforge/internal/telemetry"
	"inkforge/internal/websocket"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inkforge",
		Short: "inkforge — AI-assisted long-form fiction server",
		Long:  "inkforge plans, drafts and revises long-form fiction with a model in the loop. The UI talks to it over a local websocket.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "inkforge %s (commit: %s)\n", Version, Commit)
		},
	}
}

func newServeCmd() *cobra.Command {
	var workspace string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(workspace)
		},
	}
	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "manuscript directory to open at startup")
	return cmd
}

func serve(workspacePath string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if endpoint := os.Getenv("INKFORGE_OTLP_ENDPOINT"); endpoint != "" {
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:    "inkforge",
			ServiceVersion: Version,
			OTLPEndpoint:   endpoint,
		})
		if err != nil {
			log.Printf("[Main] telemetry disabled: %v", err)
		} else {
			defer func() {
				flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer flushCancel()
				if err := shutdown(flushCtx); err != nil {
					log.Printf("[Main] telemetry shutdown: %v", err)
				}
			}()
		}
	}

	app := NewApp()
	if err := app.Startup(ctx); err != nil {
		return err
	}

	if workspacePath != "" {
		if err := app.SetWorkspace(workspacePath); err != nil {
			return err
		}
	}

	wsServer := websocket.NewServer(app)
	app.SetEventHubBroadcaster(wsServer)

	port, err := wsServer.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start websocket server: %w", err)
	}
	log.Printf("[Main] listening on 127.0.0.1:%d", port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("[Main] shutting down")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := wsServer.Stop(stopCtx); err != nil {
		log.Printf("[Main] websocket stop: %v", err)
	}
	app.Shutdown(stopCtx)
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
