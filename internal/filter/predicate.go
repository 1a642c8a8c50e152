package filter

import (
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Kind tags a predicate variant.
type Kind int

const (
	KindEquals Kind = iota
	KindContains
	KindRange
)

func (k Kind) String() string {
	switch k {
	case KindEquals:
		return "equals"
	case KindContains:
		return "contains"
	case KindRange:
		return "range"
	default:
		return "unknown"
	}
}

// Predicate is one WHERE clause with its values bound separately.
// It implements squirrel.Sqlizer so it can be passed to Where directly.
type Predicate struct {
	Kind   Kind
	Column string
	Values []any
}

// Equals matches Column = value.
func Equals(column string, value any) Predicate {
	return Predicate{Kind: KindEquals, Column: column, Values: []any{value}}
}

// Contains matches a substring, case-sensitive, with LIKE wildcards in value escaped.
func Contains(column, value string) Predicate {
	return Predicate{Kind: KindContains, Column: column, Values: []any{"%" + escapeLike(value) + "%"}}
}

// Between matches start <= Column <= end.
func Between(column string, start, end time.Time) Predicate {
	return Predicate{Kind: KindRange, Column: column, Values: []any{start, end}}
}

// Template is the clause with placeholders, before dialect rewriting.
func (p Predicate) Template() string {
	switch p.Kind {
	case KindEquals:
		return p.Column + " = ?"
	case KindContains:
		return p.Column + ` LIKE ? ESCAPE '\'`
	case KindRange:
		return p.Column + " BETWEEN ? AND ?"
	default:
		return "1 = 0"
	}
}

func (p Predicate) ToSql() (string, []any, error) {
	return p.Template(), p.Values, nil
}

var _ sq.Sqlizer = Predicate{}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
