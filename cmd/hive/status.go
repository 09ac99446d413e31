package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/minhtri2710/swarm-tools-sub001/internal/hive"
	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

var (
	statusTitleStyle = lipgloss.NewStyle().Bold(true).
				Foreground(lipgloss.Color("214"))

	statusLabelStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245"))

	statusOKStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("114"))

	statusWarnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a project summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := hive.NewRegistry()
		defer func() { _ = registry.Shutdown(context.Background()) }()

		session, err := registry.Get(cmd.Context(), viper.GetString("project"))
		if err != nil {
			return fmt.Errorf("failed to open project: %w", err)
		}
		stats, err := session.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to gather stats: %w", err)
		}
		health := session.Health(cmd.Context())

		cmd.Print(renderStatus(stats, health.Database))
		return nil
	},
}

func renderStatus(stats *types.Stats, database string) string {
	if termenv.EnvColorProfile() == termenv.Ascii {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	var b strings.Builder
	fmt.Fprintln(&b, statusTitleStyle.Render("hive "+stats.ProjectKey))

	dbStyle := statusOKStyle
	if database != "connected" {
		dbStyle = statusWarnStyle
	}
	fmt.Fprintf(&b, "%s %s\n", statusLabelStyle.Render("database:"), dbStyle.Render(database))

	rows := []struct {
		label string
		value interface{}
	}{
		{"cells", stats.TotalCells},
		{"  open", stats.OpenCells},
		{"  in progress", stats.InProgressCells},
		{"  blocked", stats.BlockedCells},
		{"  closed", stats.ClosedCells},
		{"agents", stats.Agents},
		{"reservations", stats.ActiveReservations},
		{"events", stats.Events},
		{"sequence", stats.LatestSequence},
	}
	for _, row := range rows {
		fmt.Fprintf(&b, "%s %v\n", statusLabelStyle.Render(row.label+":"), row.value)
	}
	return b.String()
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
