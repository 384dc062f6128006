package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/vigil/internal/utils"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:         "sessions",
	Short:       "List all recorded monitoring sessions",
	Annotations: map[string]string{needsDB: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		runSessions(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(ctx context.Context) {
	sessions, err := DB.ListSessions(ctx)
	if err != nil {
		utils.Die("Failed to list sessions", err, nil)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found in database.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tSUBJECT\tSOURCE\tSTARTED\tDURATION\tBLINKS\tEPISODES")
	fmt.Fprintln(w, "--\t-------\t------\t-------\t--------\t------\t--------")

	for _, s := range sessions {
		duration := "running"
		if s.EndedAt != nil {
			duration = utils.FmtTime(s.EndedAt.Sub(s.StartedAt).Seconds())
		}
		subject := s.Subject
		if subject == "" {
			subject = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			s.ID, subject, s.Source, s.StartedAt.Local().Format("2006-01-02 15:04"), duration, s.Blinks, s.Episodes)
	}
	w.Flush()
}
