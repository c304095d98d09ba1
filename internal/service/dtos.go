package service

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// RawRow is one calendar day of call activity as received from the sheet.
// Date is a calendar day at UTC midnight; the zero value means the row had no usable date.
type RawRow struct {
	Date time.Time

	Total         float64
	Interested    float64
	NotInterested float64
	FollowUp      float64
	VMRinging     float64
	Dead          float64

	CarDealerships float64
	Contractors    float64
	LawFirms       float64
	Clinics        float64
	Restaurants    float64
	MedSpas        float64
	Gyms           float64
	Barbershops    float64
}

// HasDate reports whether the row carries a usable date.
func (r RawRow) HasDate() bool {
	return !r.Date.IsZero()
}

var rowDateLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"1/2/2006",
	"2006/01/02",
}

// UnmarshalJSON accepts loosely typed sheet rows: counts may be numbers or numeric strings,
// and anything unusable defaults to 0. A row that is not an object decodes as an empty,
// dateless row.
func (r *RawRow) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	fields, ok := v.(map[string]any)
	if !ok {
		*r = RawRow{}
		return nil
	}

	*r = RawRow{
		Date:           parseRowDate(fields["date"]),
		Total:          toNumber(fields["total"]),
		Interested:     toNumber(fields["interested"]),
		NotInterested:  toNumber(fields["not_interested"]),
		FollowUp:       toNumber(fields["follow_up"]),
		VMRinging:      toNumber(fields["vm_ringing"]),
		Dead:           toNumber(fields["dead"]),
		CarDealerships: toNumber(fields["car_dealerships"]),
		Contractors:    toNumber(fields["contractors"]),
		LawFirms:       toNumber(fields["law_firms"]),
		Clinics:        toNumber(fields["clinics"]),
		Restaurants:    toNumber(fields["restaurants"]),
		MedSpas:        toNumber(fields["med_spas"]),
		Gyms:           toNumber(fields["gyms"]),
		Barbershops:    toNumber(fields["barbershops"]),
	}
	if r.Barbershops == 0 {
		r.Barbershops = toNumber(fields["barbershop"])
	}
	return nil
}

// parseRowDate reduces any accepted date form to its calendar day. Numbers are epoch milliseconds.
func parseRowDate(v any) time.Time {
	var t time.Time
	switch d := v.(type) {
	case string:
		s := strings.TrimSpace(d)
		if s == "" {
			return time.Time{}
		}
		for _, layout := range rowDateLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				t = parsed
				break
			}
		}
	case json.Number:
		if ms := toNumber(d); ms > 0 {
			t = time.UnixMilli(int64(ms)).UTC()
		}
	}
	if t.IsZero() {
		return time.Time{}
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func toNumber(v any) float64 {
	switch n := v.(type) {
	case json.Number:
		return parseFinite(n.String())
	case string:
		return parseFinite(strings.TrimSpace(n))
	case bool:
		if n {
			return 1
		}
	}
	return 0
}

// parseFinite returns 0 for anything that is not a finite number, including out-of-range values.
func parseFinite(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

type DailyCount struct {
	Date  string  `json:"date"`
	Count float64 `json:"count"`
}

type QualitySlice struct {
	Name       string  `json:"name"`
	Value      float64 `json:"value"`
	Percentage string  `json:"percentage"`
}

type Prospects struct {
	Value     float64 `json:"value"`
	ChangePct float64 `json:"changePct"`
	LastWeek  float64 `json:"lastWeek"`
}

type MonthGoal struct {
	Percent     float64 `json:"percent"`
	Numerator   float64 `json:"numerator"`
	Denominator float64 `json:"denominator"`
}

type KPIBlock struct {
	DialsTotal float64 `json:"dialsTotal"`
	Interested float64 `json:"interested"`
	Nurtured   float64 `json:"nurtured"`
	Clients    float64 `json:"clients"`
}

type KPICards struct {
	KPIBlock
	LastWeek KPIBlock `json:"lastWeek"`
}

// BusinessDay is one stacked-bar entry of the business-type chart.
type BusinessDay struct {
	Date           string  `json:"date"`
	CarDealerships float64 `json:"Car Dealerships"`
	Contractors    float64 `json:"Contractors"`
	LawFirms       float64 `json:"Law Firms"`
	Clinics        float64 `json:"Clinics"`
	Restaurants    float64 `json:"Restaurants"`
	MedSpas        float64 `json:"Med Spas"`
	Gyms           float64 `json:"Gyms"`
	Barbershop     float64 `json:"Barbershop"`

	// Other holds business types the upstream summary sends beyond the fixed eight.
	Other map[string]any `json:"-"`
}

type businessDayFields BusinessDay

// MarshalJSON writes the fixed columns plus any extra business types.
func (b BusinessDay) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(businessDayFields(b))
	if err != nil || len(b.Other) == 0 {
		return known, err
	}

	var merged map[string]any
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range b.Other {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON reads the fixed columns leniently, like RawRow counts, and keeps unknown keys.
func (b *BusinessDay) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return err
	}

	date, _ := fields["date"].(string)
	*b = BusinessDay{
		Date:           date,
		CarDealerships: toNumber(fields["Car Dealerships"]),
		Contractors:    toNumber(fields["Contractors"]),
		LawFirms:       toNumber(fields["Law Firms"]),
		Clinics:        toNumber(fields["Clinics"]),
		Restaurants:    toNumber(fields["Restaurants"]),
		MedSpas:        toNumber(fields["Med Spas"]),
		Gyms:           toNumber(fields["Gyms"]),
		Barbershop:     toNumber(fields["Barbershop"]),
	}

	for _, k := range []string{"date", "Car Dealerships", "Contractors", "Law Firms", "Clinics",
		"Restaurants", "Med Spas", "Gyms", "Barbershop"} {
		delete(fields, k)
	}
	if len(fields) > 0 {
		b.Other = fields
	}
	return nil
}

// Summary is the chart-ready snapshot served to dashboards. Published summaries are read-only.
type Summary struct {
	OK                   bool           `json:"ok"`
	WeekEnding           string         `json:"weekEnding"`
	DialCountLast7       []DailyCount   `json:"dialCountLast7"`
	ProspectsDialedLast7 []DailyCount   `json:"prospectsDialedLast7"`
	ProspectQuality      []QualitySlice `json:"prospectQuality"`
	Prospects            Prospects      `json:"prospects"`
	MonthGoal            MonthGoal      `json:"monthGoal"`
	KPICards             KPICards       `json:"kpiCards"`
	TypeOfBusinessByDay  []BusinessDay  `json:"typeOfBusinessByDay"`
}

type PayloadKind int

const (
	PayloadUnknown PayloadKind = iota
	PayloadSummary
	PayloadRows
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadSummary:
		return "summary"
	case PayloadRows:
		return "rows"
	default:
		return "unknown"
	}
}

// Payload is a decoded remote response: either a ready Summary or raw rows to normalize.
type Payload struct {
	Kind    PayloadKind
	Summary *Summary
	Rows    []RawRow
}

// KPIDelta pairs a card value with its prior-week value and percent change.
type KPIDelta struct {
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	LastWeek  float64 `json:"lastWeek"`
	ChangePct float64 `json:"changePct"`
}

// Status is the observable controller state.
type Status struct {
	Loading      bool       `json:"loading"`
	IsRefreshing bool       `json:"isRefreshing"`
	Error        string     `json:"error,omitempty"`
	LastUpdated  *time.Time `json:"lastUpdated,omitempty"`
	WeekEnding   string     `json:"weekEnding,omitempty"`
}
