package filter

import (
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// ToPredicates emits predicates in a fixed order:
// completed, priority, category, tags, due date range.
func ToPredicates(f FilterSpec) []Predicate {
	preds := make([]Predicate, 0, 5)
	if f.Completed != nil {
		preds = append(preds, Equals(ColCompleted, *f.Completed))
	}
	if f.Priority != nil {
		preds = append(preds, Equals(ColPriority, *f.Priority))
	}
	if f.Category != nil {
		preds = append(preds, Contains(ColCategory, *f.Category))
	}
	if f.Tags != nil {
		preds = append(preds, Contains(ColTags, *f.Tags))
	}
	if f.DateRange != nil {
		preds = append(preds, Between(ColDueDate, f.DateRange.Start, f.DateRange.End))
	}
	return preds
}

// KeyPart is one cache-key dimension.
type KeyPart struct {
	Name  string
	Value string
}

// KeyParts lists every recognized dimension, absent ones as All, so that two
// specs share parts iff they select the same page of the same rows.
func (f FilterSpec) KeyParts() []KeyPart {
	return []KeyPart{
		{"page", strconv.Itoa(f.Page)},
		{"limit", strconv.Itoa(f.PageSize)},
		{"completed", optBool(f.Completed)},
		{"priority", optString(f.Priority)},
		{"category", optString(f.Category)},
		{"tags", optString(f.Tags)},
		{"range", optRange(f.DateRange)},
	}
}

func optBool(b *bool) string {
	if b == nil {
		return All
	}
	return strconv.FormatBool(*b)
}

// optString quotes present values so a literal "all" cannot collide with the sentinel.
func optString(s *string) string {
	if s == nil {
		return All
	}
	return strconv.Quote(*s)
}

func optRange(r *DateRange) string {
	if r == nil {
		return All
	}
	return r.Start.Format(time.RFC3339Nano) + "/" + r.End.Format(time.RFC3339Nano)
}

// Query builds the page fetch for one user. Ordering and pagination are
// appended after the predicates.
func Query(table string, columns []string, userID string, f FilterSpec) sq.SelectBuilder {
	q := sq.Select(columns...).
		From(table).
		Where(sq.Eq{ColUserID: userID})
	for _, p := range ToPredicates(f) {
		q = q.Where(p)
	}
	return q.
		OrderBy(ColCreatedAt + " DESC").
		Limit(uint64(f.PageSize)).
		Offset(uint64(f.Offset()))
}
