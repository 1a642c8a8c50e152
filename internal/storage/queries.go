package storage

import (
	sq "github.com/Masterminds/squirrel"

	"tasklist-api/internal/domain"
	"tasklist-api/internal/filter"
)

const TasksTable = "tasks"

// TaskColumns is the scan order used by every task read.
var TaskColumns = []string{
	"id", filter.ColUserID, "title", "description", filter.ColCompleted, filter.ColPriority,
	filter.ColCategory, filter.ColTags, filter.ColDueDate, filter.ColCreatedAt,
}

// Queries renders statements with one placeholder format.
// Time values are passed through bindTime so a dialect can choose its encoding.
type Queries struct {
	Placeholder sq.PlaceholderFormat
	BindTime    func(any) any
}

func (q Queries) builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(q.Placeholder)
}

func (q Queries) bind(args []any) []any {
	if q.BindTime == nil {
		return args
	}
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = q.BindTime(a)
	}
	return out
}

// Page selects one filtered page, newest first.
func (q Queries) Page(userID string, f filter.FilterSpec) (string, []any, error) {
	sql, args, err := filter.Query(TasksTable, TaskColumns, userID, f).
		PlaceholderFormat(q.Placeholder).
		ToSql()
	return sql, q.bind(args), err
}

// Stats aggregates counts for one user. SUM over no rows is NULL, hence COALESCE.
func (q Queries) Stats(userID string) (string, []any, error) {
	return q.builder().
		Select(
			"COUNT(*)",
			"COALESCE(SUM(CASE WHEN completed THEN 1 ELSE 0 END), 0)",
			"COALESCE(SUM(CASE WHEN completed THEN 0 ELSE 1 END), 0)",
		).
		From(TasksTable).
		Where(sq.Eq{filter.ColUserID: userID}).
		ToSql()
}

func (q Queries) Insert(t domain.Task) (string, []any, error) {
	sql, args, err := q.builder().
		Insert(TasksTable).
		Columns(TaskColumns...).
		Values(
			t.ID, t.UserID, t.Title, t.Description, t.Completed, t.Priority,
			t.Category, domain.JoinTags(t.Tags), dueDate(t), t.CreatedAt,
		).
		ToSql()
	return sql, q.bind(args), err
}

func (q Queries) Get(userID, id string) (string, []any, error) {
	return q.builder().
		Select(TaskColumns...).
		From(TasksTable).
		Where(sq.Eq{"id": id, filter.ColUserID: userID}).
		ToSql()
}

func (q Queries) Update(t domain.Task) (string, []any, error) {
	sql, args, err := q.builder().
		Update(TasksTable).
		Set("title", t.Title).
		Set("description", t.Description).
		Set(filter.ColCompleted, t.Completed).
		Set(filter.ColPriority, t.Priority).
		Set(filter.ColCategory, t.Category).
		Set(filter.ColTags, domain.JoinTags(t.Tags)).
		Set(filter.ColDueDate, dueDate(t)).
		Where(sq.Eq{"id": t.ID, filter.ColUserID: t.UserID}).
		ToSql()
	return sql, q.bind(args), err
}

func (q Queries) Delete(userID, id string) (string, []any, error) {
	return q.builder().
		Delete(TasksTable).
		Where(sq.Eq{"id": id, filter.ColUserID: userID}).
		ToSql()
}

// dueDate returns an untyped nil for a missing date so drivers bind NULL.
func dueDate(t domain.Task) any {
	if t.DueDate == nil {
		return nil
	}
	return t.DueDate.UTC()
}
