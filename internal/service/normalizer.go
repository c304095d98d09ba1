package service

import (
	"fmt"
	"math"
	"sort"
	"time"
)

const (
	// MonthGoalTarget is the fixed monthly prospect target.
	MonthGoalTarget = 500

	windowDays = 7
)

// Summarize converts raw daily rows into the dashboard summary. It never fails: rows without a
// date are dropped and missing counts are 0. now fixes the month-to-date window and its location.
func Summarize(rows []RawRow, now time.Time) Summary {
	dated := make([]RawRow, 0, len(rows))
	for _, r := range rows {
		if r.HasDate() {
			dated = append(dated, r)
		}
	}
	if len(dated) == 0 {
		return emptySummary()
	}
	sort.SliceStable(dated, func(i, j int) bool {
		return dated[i].Date.Before(dated[j].Date)
	})

	last7, prev7 := splitWindows(dated)

	dials := make([]DailyCount, len(last7))
	for i, r := range last7 {
		dials[i] = DailyCount{Date: dayLabel(r.Date), Count: r.Total}
	}
	// Both daily series are the same data until the sheet exposes a separate dialed-prospects column.
	prospectsDialed := append([]DailyCount(nil), dials...)

	curr := sumBy(last7, func(r RawRow) float64 { return r.Total })
	prev := sumBy(prev7, func(r RawRow) float64 { return r.Total })

	return Summary{
		OK:                   true,
		WeekEnding:           dated[len(dated)-1].Date.Format("2006-01-02"),
		DialCountLast7:       dials,
		ProspectsDialedLast7: prospectsDialed,
		ProspectQuality:      qualityBreakdown(dated),
		Prospects: Prospects{
			Value:     curr,
			ChangePct: PercentDelta(curr, prev),
			LastWeek:  prev,
		},
		MonthGoal: monthGoal(dated, now),
		KPICards: KPICards{
			KPIBlock: kpiBlock(last7),
			LastWeek: kpiBlock(prev7),
		},
		TypeOfBusinessByDay: businessByDay(last7),
	}
}

func emptySummary() Summary {
	return Summary{
		OK:                   true,
		WeekEnding:           "",
		DialCountLast7:       []DailyCount{},
		ProspectsDialedLast7: []DailyCount{},
		ProspectQuality:      []QualitySlice{},
		MonthGoal:            MonthGoal{Denominator: MonthGoalTarget},
		TypeOfBusinessByDay:  []BusinessDay{},
	}
}

// splitWindows returns the final seven rows and the seven before them, by row order.
func splitWindows(sorted []RawRow) (last7, prev7 []RawRow) {
	n := len(sorted)
	lastStart := max(0, n-windowDays)
	prevStart := max(0, n-2*windowDays)
	return sorted[lastStart:], sorted[prevStart:lastStart]
}

func sumBy(rows []RawRow, field func(RawRow) float64) float64 {
	var total float64
	for _, r := range rows {
		total += field(r)
	}
	return total
}

// qualityBreakdown sums the outcome categories over the whole history, not only the last week.
func qualityBreakdown(rows []RawRow) []QualitySlice {
	slices := []QualitySlice{
		{Name: "Interested", Value: sumBy(rows, func(r RawRow) float64 { return r.Interested })},
		{Name: "Not Interested", Value: sumBy(rows, func(r RawRow) float64 { return r.NotInterested })},
		{Name: "Follow-Up", Value: sumBy(rows, func(r RawRow) float64 { return r.FollowUp })},
		{Name: "VM/Ringing", Value: sumBy(rows, func(r RawRow) float64 { return r.VMRinging })},
		{Name: "Dead", Value: sumBy(rows, func(r RawRow) float64 { return r.Dead })},
	}

	var total float64
	for _, s := range slices {
		total += s.Value
	}
	denominator := math.Max(1, total)

	for i := range slices {
		slices[i].Percentage = percentString(slices[i].Value, denominator)
	}
	return slices
}

// monthGoal sums totals for calendar days from the first of now's month through today.
func monthGoal(rows []RawRow, now time.Time) MonthGoal {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var total float64
	for _, r := range rows {
		if !r.Date.Before(monthStart) && !r.Date.After(today) {
			total += r.Total
		}
	}

	return MonthGoal{
		Percent:     clamp(roundHalfAway(total/MonthGoalTarget*100), 0, 100),
		Numerator:   total,
		Denominator: MonthGoalTarget,
	}
}

func kpiBlock(rows []RawRow) KPIBlock {
	interested := sumBy(rows, func(r RawRow) float64 { return r.Interested })
	return KPIBlock{
		DialsTotal: sumBy(rows, func(r RawRow) float64 { return r.Total }),
		Interested: interested,
		// Nurtured mirrors interested; the sheet has no nurtured column yet.
		Nurtured: interested,
		Clients:  0,
	}
}

func businessByDay(rows []RawRow) []BusinessDay {
	out := make([]BusinessDay, len(rows))
	for i, r := range rows {
		out[i] = BusinessDay{
			Date:           dayLabel(r.Date),
			CarDealerships: r.CarDealerships,
			Contractors:    r.Contractors,
			LawFirms:       r.LawFirms,
			Clinics:        r.Clinics,
			Restaurants:    r.Restaurants,
			MedSpas:        r.MedSpas,
			Gyms:           r.Gyms,
			Barbershop:     r.Barbershops,
		}
	}
	return out
}

// PercentDelta returns the rounded percent change from prev to curr, or 0 when prev is 0.
func PercentDelta(curr, prev float64) float64 {
	if prev == 0 {
		return 0
	}
	return roundHalfAway((curr - prev) / prev * 100)
}

// KPIDeltas lists each KPI card with its week-over-week change.
func KPIDeltas(s Summary) []KPIDelta {
	cards := s.KPICards
	return []KPIDelta{
		{Name: "Dials Total", Value: cards.DialsTotal, LastWeek: cards.LastWeek.DialsTotal, ChangePct: PercentDelta(cards.DialsTotal, cards.LastWeek.DialsTotal)},
		{Name: "Interested", Value: cards.Interested, LastWeek: cards.LastWeek.Interested, ChangePct: PercentDelta(cards.Interested, cards.LastWeek.Interested)},
		{Name: "Nurtured", Value: cards.Nurtured, LastWeek: cards.LastWeek.Nurtured, ChangePct: PercentDelta(cards.Nurtured, cards.LastWeek.Nurtured)},
		{Name: "Clients", Value: cards.Clients, LastWeek: cards.LastWeek.Clients, ChangePct: PercentDelta(cards.Clients, cards.LastWeek.Clients)},
	}
}

func dayLabel(d time.Time) string {
	return d.Format("01/02")
}

func percentString(n, d float64) string {
	return fmt.Sprintf("%d%%", int64(roundHalfAway(n/d*100)))
}

// roundHalfAway rounds half away from zero and never yields negative zero.
func roundHalfAway(x float64) float64 {
	r := math.Round(x)
	if r == 0 {
		return 0
	}
	return r
}

func clamp(n, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, n))
}
