package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/minhtri2710/swarm-tools-sub001/internal/hive"
	"github.com/minhtri2710/swarm-tools-sub001/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the event stream server",
	Long: `Serves the project's event log and cell snapshot over HTTP:
GET /streams/{project} for one-shot or live (SSE) reads, GET /cells for the
tracker snapshot, GET /events for a live stream of the configured project.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		registry := hive.NewRegistry()
		defer func() {
			if err := registry.Shutdown(context.Background()); err != nil {
				log.Printf("shutdown flush: %v", err)
			}
		}()

		project := viper.GetString("project")
		if _, err := registry.Get(ctx, project); err != nil {
			return fmt.Errorf("failed to open project: %w", err)
		}

		addr := viper.GetString("addr")
		srv := server.New(registry, server.Config{Addr: addr, ProjectPath: project})
		log.Printf("hive serving %s on %s", project, addr)
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().String("addr", ":7630", "listen address")
	_ = viper.BindPFlag("addr", serveCmd.Flags().Lookup("addr"))
	rootCmd.AddCommand(serveCmd)
}
