package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/routeworks/fleetpilot/internal/trip"
	"github.com/spf13/cobra"
)

var (
	tripStopSpeed float64
	tripMinStop   time.Duration
)

var tripsCmd = &cobra.Command{
	Use:   "trips <points.json>",
	Short: "Summarize a trip from a GPS point file",
	Long: `Summarize a recorded trip from a JSON file of GPS points.

The file is a JSON array of points:
  [{"lat": 6.4281, "lon": 3.4219, "timestamp": "2026-08-28T07:14:00Z"}, ...]

Points may be in any order. The summary reports distance, duration,
average and maximum speed, and detected stops.

Examples:
  fleetpilot trips trk-0042-monday.json
  fleetpilot trips route.json --stop-speed 5 --min-stop 10m`,
	Args: cobra.ExactArgs(1),
	RunE: runTrips,
}

func init() {
	opts := trip.DefaultOptions()
	tripsCmd.Flags().Float64Var(&tripStopSpeed, "stop-speed", opts.StopSpeedKMH, "speed in km/h below which the vehicle counts as stopped")
	tripsCmd.Flags().DurationVar(&tripMinStop, "min-stop", opts.MinStopDuration, "minimum dwell to report a stop")
}

func runTrips(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read points file: %w", err)
	}

	var points []trip.Point
	if err := json.Unmarshal(data, &points); err != nil {
		return fmt.Errorf("parse points file: %w", err)
	}
	if len(points) < 2 {
		fmt.Println("Not enough points for a trip summary.")
		return nil
	}

	summary := trip.Summarize(points, trip.Options{
		StopSpeedKMH:    tripStopSpeed,
		MinStopDuration: tripMinStop,
	})

	fmt.Printf("Distance:  %.1f km\n", summary.DistanceMeters/1000)
	fmt.Printf("Duration:  %s\n", summary.Duration.Round(time.Minute))
	fmt.Printf("Avg speed: %.0f km/h\n", summary.AvgSpeedKMH)
	fmt.Printf("Max speed: %.0f km/h\n", summary.MaxSpeedKMH)

	if len(summary.Stops) == 0 {
		fmt.Println("Stops:     none")
		return nil
	}

	fmt.Printf("Stops:     %d\n", len(summary.Stops))
	for _, stop := range summary.Stops {
		fmt.Printf("  %s  %s at (%.5f, %.5f)\n",
			stop.Start.Local().Format("15:04"),
			stop.Duration.Round(time.Minute),
			stop.Lat, stop.Lon)
	}

	return nil
}
