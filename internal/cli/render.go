package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/godilite/kpi-dashboard/internal/service"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

func validateFormat(format string) error {
	switch format {
	case formatJSON, formatTable:
		return nil
	default:
		return fmt.Errorf("unknown format %q (want json or table)", format)
	}
}

func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderSummary(w io.Writer, s service.Summary, format string) error {
	if format == formatJSON {
		return renderJSON(w, s)
	}

	if s.WeekEnding == "" {
		_, _ = fmt.Fprintln(w, "(no dated rows)")
		return nil
	}

	overview := newTable(w, "Week ending "+s.WeekEnding)
	overview.AppendHeader(table.Row{"Metric", "Value", "Last week", "Change"})
	overview.AppendRow(table.Row{"Prospects", s.Prospects.Value, s.Prospects.LastWeek, signedPct(s.Prospects.ChangePct)})
	for _, d := range service.KPIDeltas(s) {
		overview.AppendRow(table.Row{d.Name, d.Value, d.LastWeek, signedPct(d.ChangePct)})
	}
	overview.AppendFooter(table.Row{"Month goal",
		fmt.Sprintf("%g / %g", s.MonthGoal.Numerator, s.MonthGoal.Denominator), "", fmt.Sprintf("%g%%", s.MonthGoal.Percent)})
	overview.Render()

	daily := newTable(w, "Dials, last 7 days")
	daily.AppendHeader(table.Row{"Day", "Dials", "Car Dealerships", "Contractors", "Law Firms", "Clinics",
		"Restaurants", "Med Spas", "Gyms", "Barbershop"})
	for i, d := range s.DialCountLast7 {
		row := table.Row{d.Date, d.Count}
		if i < len(s.TypeOfBusinessByDay) {
			b := s.TypeOfBusinessByDay[i]
			row = append(row, b.CarDealerships, b.Contractors, b.LawFirms, b.Clinics, b.Restaurants, b.MedSpas, b.Gyms, b.Barbershop)
		}
		daily.AppendRow(row)
	}
	daily.Render()

	quality := newTable(w, "Prospect quality, all time")
	quality.AppendHeader(table.Row{"Outcome", "Count", "Share"})
	for _, q := range s.ProspectQuality {
		quality.AppendRow(table.Row{q.Name, q.Value, q.Percentage})
	}
	quality.Render()
	return nil
}

func renderStatus(w io.Writer, st service.Status, format string) error {
	if format == formatJSON {
		return renderJSON(w, st)
	}

	t := newTable(w, "Refresh status")
	t.AppendRow(table.Row{"Loading", st.Loading})
	t.AppendRow(table.Row{"Refreshing", st.IsRefreshing})
	t.AppendRow(table.Row{"Week ending", orDash(st.WeekEnding)})
	if st.LastUpdated != nil {
		t.AppendRow(table.Row{"Last updated", st.LastUpdated.Format("2006-01-02 15:04:05 MST")})
	} else {
		t.AppendRow(table.Row{"Last updated", "-"})
	}
	t.AppendRow(table.Row{"Error", orDash(st.Error)})
	t.Render()
	return nil
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	return t
}

func signedPct(v float64) string {
	return fmt.Sprintf("%+g%%", v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
