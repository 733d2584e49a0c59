package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/aretw0/asyncworker/pkg/domain"
)

// PrintRunners writes one row per runner.
func PrintRunners(out io.Writer, runners []*domain.Runner) error {
	if len(runners) == 0 {
		_, err := fmt.Fprintln(out, "No runners found.")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUNNER\tSTATE\tPID\tSTARTED\tDEADLINE\tSHUTDOWN\tSTARTS\tSTOPS\tTIMEOUTS")
	for _, r := range runners {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%t\t%d\t%d\t%d\n",
			r.ID, r.State, r.RunPID,
			formatTime(r.RunStarted), formatTime(r.RunTimeout),
			r.RunShutdown, r.Counters.Starts, r.Counters.Stops, r.Counters.Timeouts,
		)
	}
	return tw.Flush()
}

// PrintJSON pretty prints v.
func PrintJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
