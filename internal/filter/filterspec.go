// Package filter turns list query parameters into a normalized FilterSpec and
// an ordered set of bound predicates.
package filter

import (
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 10
	MaxPageSize     = 100

	// Sentinel used in cache keys for an absent dimension.
	All = "all"
)

// Columns referenced by predicates and the list query.
const (
	ColUserID    = "user_id"
	ColCompleted = "completed"
	ColPriority  = "priority"
	ColCategory  = "category"
	ColTags      = "tags"
	ColDueDate   = "due_date"
	ColCreatedAt = "created_at"
)

type DateRange struct {
	Start time.Time
	End   time.Time
}

// FilterSpec is the normalized form of the list query parameters.
// Nil fields mean "no filter on that dimension".
type FilterSpec struct {
	Completed *bool
	Priority  *string
	Category  *string
	Tags      *string
	DateRange *DateRange
	Page      int
	PageSize  int
}

// Offset is the number of rows skipped for the current page.
func (f FilterSpec) Offset() int {
	return (f.Page - 1) * f.PageSize
}

type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (o Options) withDefaults() Options {
	if o.DefaultPageSize <= 0 {
		o.DefaultPageSize = DefaultPageSize
	}
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = MaxPageSize
	}
	if o.DefaultPageSize > o.MaxPageSize {
		o.DefaultPageSize = o.MaxPageSize
	}
	return o
}

// Build parses raw query parameters. Malformed values fall back to defaults
// rather than producing an error.
func Build(params url.Values, opts Options) FilterSpec {
	opts = opts.withDefaults()

	spec := FilterSpec{
		Page:     positiveInt(params.Get("page"), DefaultPage),
		PageSize: positiveInt(params.Get("limit"), opts.DefaultPageSize),
	}
	if spec.PageSize > opts.MaxPageSize {
		spec.PageSize = opts.MaxPageSize
	}
	// (page-1)*pageSize must stay a valid row offset
	if spec.Page > math.MaxInt64/spec.PageSize {
		spec.Page = DefaultPage
	}

	if params.Has("completed") {
		done := params.Get("completed") == "true"
		spec.Completed = &done
	}
	if v := params.Get("priority"); v != "" {
		spec.Priority = &v
	}
	if v := strings.TrimSpace(params.Get("category")); v != "" {
		spec.Category = &v
	}
	if v := params.Get("tags"); v != "" {
		spec.Tags = &v
	}
	spec.DateRange = parseRange(params.Get("startDate"), params.Get("endDate"))

	return spec
}

func positiveInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return def
	}
	return n
}

// parseRange needs both endpoints; a lone endpoint is ignored entirely.
func parseRange(start, end string) *DateRange {
	if start == "" || end == "" {
		return nil
	}
	s, _, ok := parseDate(start)
	if !ok {
		return nil
	}
	e, dateOnly, ok := parseDate(end)
	if !ok {
		return nil
	}
	if dateOnly {
		// inclusive through the last instant of the end day
		e = e.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &DateRange{Start: s, End: e}
}

func parseDate(s string) (t time.Time, dateOnly bool, ok bool) {
	s = strings.TrimSpace(s)
	if d, err := time.Parse(time.DateOnly, s); err == nil {
		return d.UTC(), true, true
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), false, true
	}
	return time.Time{}, false, false
}
