package domain

import (
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/civil"
)

// DateTokenSet holds the distinct year, month and day tokens of a date range.
//
// The cross product of the three sets may contain dates outside the range it
// was built from. Retrieval APIs that take separate year/month/day lists accept
// this over-approximation in exchange for a single batched request.
//
// Tokens are zero padded: years to four digits, months and days to two
// ("2021", "01", "09").
type DateTokenSet struct {
	Years  map[string]struct{}
	Months map[string]struct{}
	Days   map[string]struct{}
}

// NewDateTokenSet returns an empty token set.
func NewDateTokenSet() DateTokenSet {
	return DateTokenSet{
		Years:  make(map[string]struct{}),
		Months: make(map[string]struct{}),
		Days:   make(map[string]struct{}),
	}
}

// Add records the tokens of a single date.
func (s DateTokenSet) Add(d civil.Date) {
	s.Years[YearToken(d.Year)] = struct{}{}
	s.Months[MonthToken(d.Month)] = struct{}{}
	s.Days[DayToken(d.Day)] = struct{}{}
}

// Covers reports whether the year, month and day of d are all present.
func (s DateTokenSet) Covers(d civil.Date) bool {
	_, y := s.Years[YearToken(d.Year)]
	_, m := s.Months[MonthToken(d.Month)]
	_, dd := s.Days[DayToken(d.Day)]
	return y && m && dd
}

// Empty reports whether no date has been added.
func (s DateTokenSet) Empty() bool {
	return len(s.Years) == 0 && len(s.Months) == 0 && len(s.Days) == 0
}

// SortedYears returns the year tokens in ascending order.
func (s DateTokenSet) SortedYears() []string { return sortedKeys(s.Years) }

// SortedMonths returns the month tokens in ascending order.
func (s DateTokenSet) SortedMonths() []string { return sortedKeys(s.Months) }

// SortedDays returns the day tokens in ascending order.
func (s DateTokenSet) SortedDays() []string { return sortedKeys(s.Days) }

// YearToken formats a year as a four digit token.
func YearToken(year int) string { return fmt.Sprintf("%04d", year) }

// MonthToken formats a month as a two digit token.
func MonthToken(month time.Month) string { return fmt.Sprintf("%02d", int(month)) }

// DayToken formats a day of month as a two digit token.
func DayToken(day int) string { return fmt.Sprintf("%02d", day) }

// ExpandDateRange returns the tokens needed to request every day of the closed
// interval [from, to]. An inverted range yields an empty set: there is
// nothing to request.
func ExpandDateRange(from, to civil.Date) DateTokenSet {
	set := NewDateTokenSet()
	if to.Before(from) {
		return set
	}

	for d := from; !d.After(to); d = d.AddDays(1) {
		set.Add(d)
	}
	return set
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
