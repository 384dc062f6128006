package cmd

import (
	"context"
	"fmt"

	"github.com/andresmejia3/vigil/internal/utils"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:         "label <session_id> <subject>",
	Short:       "Name the person monitored in a session",
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{needsDB: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		runLabel(cmd.Context(), args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}

func runLabel(ctx context.Context, sessionID, subject string) {
	if err := DB.RenameSubject(ctx, sessionID, subject); err != nil {
		utils.Die("Failed to label session", err, nil)
	}

	fmt.Printf("✅ Session %s labeled as '%s'\n", sessionID, subject)
}
