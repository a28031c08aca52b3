package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"quotaguard/internal/models"
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

func parseFormat(s string) (string, error) {
	switch s {
	case FormatTable, FormatJSON:
		return s, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (table|json)", s)
	}
}

func writeJSON(w io.Writer, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(payload))
	return err
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

func renderStatus(w io.Writer, s *models.ThrottlerStatusResponse) {
	t := newTable(w)
	t.SetTitle("Throttler")
	t.AppendRows([]table.Row{
		{"Flow", s.Flow},
		{"Remaining reads", fmt.Sprintf("%d / %d", s.RemainingReads, s.DefaultReads)},
		{"Used", usedPercent(s.DefaultReads, s.RemainingReads)},
		{"Window start", formatTime(&s.WindowStart)},
		{"Window width", s.WindowWidth.String()},
		{"Global delay", s.ThrottlerTime.String()},
		{"Tasks", s.TaskCount},
		{"On-demand reservation", fmt.Sprintf("%d%%", s.Config.OnDemandReservationPercent)},
		{"Reservation", fmt.Sprintf("%d%%", s.Config.ReservationPercent)},
		{"Aggressive throttling", fmt.Sprintf("%d%%", s.Config.AggressiveThrottlingPercent)},
	})
	t.Render()
}

func renderTasks(w io.Writer, list *models.ListTasksResponse) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Type", "TTL", "Effective TTL", "Value", "Fetched", "Calls", "Penalty until"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 7, Align: text.AlignRight},
	})
	for _, info := range list.Tasks {
		t.AppendRow(table.Row{
			info.ID,
			info.ExecutionType,
			info.TTL.String(),
			info.EffectiveTTL.String(),
			yesNo(info.HasValue),
			formatTime(info.FetchedAt),
			info.Statistics.TotalCallCount,
			formatTime(info.PenaltyUntil),
		})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d tasks", list.TotalCount)})
	t.Render()
}

func renderTask(w io.Writer, info *models.TaskInfo) {
	executions := "-"
	if info.Statistics.ExecutionCount != nil {
		executions = fmt.Sprint(*info.Statistics.ExecutionCount)
	}

	t := newTable(w)
	t.SetTitle("Task " + info.ID)
	t.AppendRows([]table.Row{
		{"Execution type", info.ExecutionType},
		{"TTL", info.TTL.String()},
		{"Throttler timeout", info.ThrottlerTimeout.String()},
		{"Effective TTL", info.EffectiveTTL.String()},
		{"Has value", yesNo(info.HasValue)},
		{"Fetched at", formatTime(info.FetchedAt)},
		{"Penalty until", formatTime(info.PenaltyUntil)},
		{"Executions this window", executions},
		{"Calls this window", info.Statistics.TotalCallCount},
		{"Last call", formatTime(info.Statistics.LastCallTime)},
	})
	t.Render()
}

func renderValue(w io.Writer, v *models.TaskValueResponse) error {
	state := "fresh"
	switch {
	case v.Stale:
		state = "stale"
	case v.Cached:
		state = "cached"
	}
	if _, err := fmt.Fprintf(w, "# %s (%s, fetched %s)\n", v.ID, state, formatTime(&v.FetchedAt)); err != nil {
		return err
	}
	var pretty any
	if err := json.Unmarshal(v.Value, &pretty); err != nil {
		return fmt.Errorf("decoding value: %w", err)
	}
	return writeJSON(w, pretty)
}

func renderHealth(w io.Writer, h *models.HealthCheckResponse) {
	t := newTable(w)
	t.SetTitle(fmt.Sprintf("quotaguard %s: %s", h.Version, h.Status))
	t.AppendHeader(table.Row{"Component", "Status", "Message"})

	names := make([]string, 0, len(h.Components))
	for name := range h.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := h.Components[name]
		t.AppendRow(table.Row{name, c.Status, c.Message})
	}
	t.Render()
}

func usedPercent(defaultReads, remaining int64) string {
	if defaultReads <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", float64(defaultReads-remaining)*100/float64(defaultReads))
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
