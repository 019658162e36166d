package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/routeworks/fleetpilot/internal/metrics"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show assistant backend statistics",
	Long: `Show operational statistics from the assistant backend: message volume,
connected push subscribers, and per-operation timings.`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

// statsReply mirrors the backend's /v1/stats body.
type statsReply struct {
	metrics.Snapshot
	TotalMessages int `json:"totalMessages"`
	Subscribers   int `json:"subscribers"`
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.AssistantURL+"/v1/stats", nil)
	if err != nil {
		return fmt.Errorf("build stats request: %w", err)
	}
	if cfg.AssistantToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.AssistantToken)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch stats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("stats request failed: %s: %s", resp.Status, body)
	}

	var stats statsReply
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("decode stats: %w", err)
	}

	fmt.Printf("Uptime:      %s\n", (time.Duration(stats.UptimeSeconds) * time.Second).Round(time.Second))
	fmt.Printf("Messages:    %d\n", stats.TotalMessages)
	fmt.Printf("Subscribers: %d\n", stats.Subscribers)

	fmt.Printf("\n%-14s %8s %10s %10s %10s\n", "OPERATION", "COUNT", "AVG", "MIN", "MAX")
	printOp("llm_stream", stats.LLMStream)
	printOp("db_query", stats.DBQuery)
	printOp("send", stats.Send)
	printOp("stream", stats.Stream)
	printOp("history_load", stats.HistoryLoad)
	printOp("push_merge", stats.PushMerge)

	return nil
}

// printOp prints one operation row; absent operations are skipped.
func printOp(name string, op *metrics.OperationSnapshot) {
	if op == nil {
		return
	}
	fmt.Printf("%-14s %8d %9.1fms %8dms %8dms\n",
		name, op.Count, op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}
