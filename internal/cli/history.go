package cli

import (
	"context"
	"fmt"

	"github.com/routeworks/fleetpilot/internal/models"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <vehicle-id>",
	Short: "Show recent conversation history for a vehicle",
	Long: `Show the most recent messages of your conversation about a vehicle,
oldest first.

Examples:
  fleetpilot history TRK-0042
  fleetpilot history TRK-0042 -n 10`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "max messages (default from config)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	key := models.ConversationKey{VehicleID: args[0], UserID: cfg.UserID}
	if err := key.Validate(); err != nil {
		return err
	}

	limit := historyLimit
	if limit <= 0 {
		limit = cfg.HistoryLimit
	}

	client := newAssistantClient()
	msgs, err := client.History(context.Background(), key, limit)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	if len(msgs) == 0 {
		fmt.Println("No messages yet for this vehicle.")
		return nil
	}

	theme := defaultTheme
	for _, msg := range msgs {
		ts := theme.hintStyle().Render(msg.CreatedAt.Local().Format("2006-01-02 15:04"))
		fmt.Println(ts)
		fmt.Println(theme.renderMessage(msg))
	}

	return nil
}
