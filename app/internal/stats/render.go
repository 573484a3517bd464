package stats

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

var columns = []string{
	"address", "label", "attempts", "successes", "loss_rate",
	"min_ms", "avg_ms", "p50_ms", "p95_ms", "max_ms",
}

// WriteText prints summaries as comma-separated lines with a header, the
// same shape the CSV export uses.
func WriteText(w io.Writer, rows []TargetSummary) {
	fmt.Fprintln(w, strings.Join(columns, ","))
	for _, r := range rows {
		fmt.Fprintln(w, strings.Join(fields(r), ","))
	}
}

// WriteCSV writes summaries to w, one row per target.
func WriteCSV(w io.Writer, rows []TargetSummary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(fields(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportCSV writes summaries to a new file at path. I/O failures are
// returned to the caller, never swallowed.
func ExportCSV(path string, rows []TargetSummary) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export csv: %w", err)
	}
	if err := WriteCSV(f, rows); err != nil {
		_ = f.Close()
		return fmt.Errorf("export csv: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("export csv: %w", err)
	}
	return nil
}

func fields(r TargetSummary) []string {
	out := []string{
		r.Address,
		r.Label,
		strconv.Itoa(r.Attempts),
		strconv.Itoa(r.Successes),
	}
	if r.Attempts == 0 {
		out = append(out, "no data")
	} else {
		out = append(out, fmt.Sprintf("%.1f%%", r.LossRate*100))
	}
	if r.NoData {
		out = append(out, "-", "-", "-", "-", "-")
	} else {
		out = append(out,
			ms(r.Min), ms(r.Avg), ms(r.P50), ms(r.P95), ms(r.Max))
	}
	return out
}

func ms(d time.Duration) string {
	return fmt.Sprintf("%.2f", float64(d.Microseconds())/1000)
}
