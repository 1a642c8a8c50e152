package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

type Task struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Completed   bool       `json:"completed"`
	Priority    string     `json:"priority"`
	Category    *string    `json:"category"`
	Tags        []string   `json:"tags"`
	DueDate     *time.Time `json:"dueDate"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Normalize fills defaults the same way for create and update.
func (t *Task) Normalize() {
	t.Title = strings.TrimSpace(t.Title)
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.Category != nil && strings.TrimSpace(*t.Category) == "" {
		t.Category = nil
	}
}

func (t *Task) Validate() error {
	var problems []string
	if strings.TrimSpace(t.Title) == "" {
		problems = append(problems, "title is required")
	}
	if t.UserID == "" {
		problems = append(problems, "user is required")
	}
	switch t.Priority {
	case PriorityLow, PriorityMedium, PriorityHigh:
	default:
		problems = append(problems, "priority must be one of low, medium, high")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// JoinTags is the stored form of Tags.
func JoinTags(tags []string) string {
	return strings.Join(tags, ",")
}

// SplitTags reverses JoinTags; an empty column means no tags.
func SplitTags(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}

// StatsCounts is the raw aggregate returned by storage.
type StatsCounts struct {
	Total     int64
	Completed int64
	Pending   int64
}

type Stats struct {
	Total          int64           `json:"total"`
	Completed      int64           `json:"completed"`
	Pending        int64           `json:"pending"`
	CompletionRate decimal.Decimal `json:"completionRate"`
}

// NewStats derives the completion rate (percent, two decimals).
func NewStats(c StatsCounts) Stats {
	rate := decimal.Zero
	if c.Total > 0 {
		rate = decimal.NewFromInt(c.Completed).
			Mul(decimal.NewFromInt(100)).
			DivRound(decimal.NewFromInt(c.Total), 2)
	}
	return Stats{
		Total:          c.Total,
		Completed:      c.Completed,
		Pending:        c.Pending,
		CompletionRate: rate,
	}
}

// Page is one paginated slice of a user's tasks.
type Page struct {
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
	Count int    `json:"count"`
	Data  []Task `json:"data"`
}
