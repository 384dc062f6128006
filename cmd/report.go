package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/vigil/internal/export"
	"github.com/andresmejia3/vigil/internal/store"
	"github.com/andresmejia3/vigil/internal/utils"
	"github.com/spf13/cobra"
)

var reportXLSX string

var reportCmd = &cobra.Command{
	Use:         "report <session_id>",
	Short:       "Show the drowsy and sleeping episodes of a session",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runReport(cmd.Context(), args[0])
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportXLSX, "xlsx", "", "Also write the episodes to this .xlsx file")
	rootCmd.AddCommand(reportCmd)
}

func runReport(ctx context.Context, sessionID string) error {
	episodes, err := DB.GetSessionEpisodes(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fmt.Printf("❌ No session with ID %s.\n", sessionID)
			return err
		}
		utils.ShowError("Failed to retrieve episodes", err, nil)
		return err
	}

	if reportXLSX != "" {
		if err := writeWorkbook(reportXLSX, episodes); err != nil {
			utils.ShowError("Failed to export episodes", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "📄 Episodes written to %s\n", reportXLSX)
	}

	if len(episodes) == 0 {
		fmt.Println("✅ No drowsy or sleeping episodes recorded.")
		return nil
	}
	writeEpisodes(os.Stdout, episodes)
	return nil
}

func writeWorkbook(path string, episodes []store.Episode) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.WriteEpisodes(f, episodes); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeEpisodes prints episodes as a table.
func writeEpisodes(out io.Writer, episodes []store.Episode) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "STARTED\tENDED\tDURATION\tPEAK\tNOTE")
	fmt.Fprintln(w, "-------\t-----\t--------\t----\t----")

	for _, ep := range episodes {
		note := ""
		if ep.Abandoned {
			note = "face lost"
		}
		fmt.Fprintf(w, "%s\t%s\t%.1fs\t%s\t%s\n",
			ep.StartedAt.Local().Format("15:04:05.000"),
			ep.EndedAt.Local().Format("15:04:05.000"),
			ep.Duration.Seconds(),
			ep.Peak,
			note,
		)
	}
	w.Flush()
}
