package manager

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

type RecurrencePattern string

const (
	RecurrenceDaily   RecurrencePattern = "daily"
	RecurrenceWeekly  RecurrencePattern = "weekly"
	RecurrenceMonthly RecurrencePattern = "monthly"
)

const (
	MaxTitleLength       = 500
	MaxDescriptionLength = 2000
	MaxTags              = 10
	MaxTagLength         = 50
)

// Окно уведомлений для ленты "скоро срок"
const NotificationWindow = 5 * time.Minute

type Task struct {
	ID                int               `json:"id"`
	UserID            int               `json:"-"`
	Title             string            `json:"title"`
	Description       string            `json:"description,omitempty"`
	Completed         bool              `json:"completed"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
	Priority          Priority          `json:"priority"`
	Tags              []string          `json:"tags"`
	DueDate           *time.Time        `json:"due_date,omitempty"`
	NotificationSent  bool              `json:"notification_sent"`
	IsRecurring       bool              `json:"is_recurring"`
	RecurrencePattern RecurrencePattern `json:"recurrence_pattern,omitempty"`
	RecurrenceEndDate *time.Time        `json:"recurrence_end_date,omitempty"`
	ParentTaskID      *int              `json:"parent_task_id,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

type UpdateTaskRequest struct {
	Title             *string            `json:"title,omitempty"`
	Description       *string            `json:"description,omitempty"`
	Priority          *Priority          `json:"priority,omitempty"`
	Tags              *[]string          `json:"tags,omitempty"`
	DueDate           *time.Time         `json:"due_date,omitempty"`
	ClearDueDate      bool               `json:"clear_due_date,omitempty"`
	IsRecurring       *bool              `json:"is_recurring,omitempty"`
	RecurrencePattern *RecurrencePattern `json:"recurrence_pattern,omitempty"`
	RecurrenceEndDate *time.Time         `json:"recurrence_end_date,omitempty"`
}

type SortField string

const (
	SortByCreatedAt SortField = "created_at"
	SortByDueDate   SortField = "due_date"
	SortByPriority  SortField = "priority"
	SortByTitle     SortField = "title"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// FilterOptions - типизированные параметры поиска/фильтрации/сортировки.
// nil-указатель или пустое значение означает "фильтр не применяется".
type FilterOptions struct {
	Search     string
	Completed  *bool
	Priorities []Priority
	Tags       []string
	DueFrom    *time.Time
	DueTo      *time.Time
	Overdue    *bool
	SortBy     SortField
	SortOrder  SortOrder
}

var (
	ErrTaskNotFound         = errors.New("задача не найдена")
	ErrTaskAlreadyCompleted = errors.New("задача уже выполнена")
	ErrUserNotFound         = errors.New("пользователь не найден")
)

// ValidationError - ошибка валидации, привязанная к конкретному полю
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var tagRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// NormalizeTags убирает пробелы и дубликаты, сохраняя порядок первых вхождений
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

func validateTags(tags []string) error {
	if len(tags) > MaxTags {
		return &ValidationError{Field: "tags", Message: fmt.Sprintf("не более %d тегов", MaxTags)}
	}
	for _, tag := range tags {
		if len(tag) > MaxTagLength || !tagRe.MatchString(tag) {
			return &ValidationError{Field: "tags", Message: fmt.Sprintf("недопустимый тег %q", tag)}
		}
	}
	return nil
}

func validPriority(p Priority) bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

func validPattern(p RecurrencePattern) bool {
	switch p {
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		return true
	}
	return false
}

// ValidateTask проверяет инварианты задачи целиком (после слияния обновлений)
func ValidateTask(task *Task) error {
	if task.Title == "" {
		return &ValidationError{Field: "title", Message: "название задачи обязательно"}
	}
	if len(task.Title) > MaxTitleLength {
		return &ValidationError{Field: "title", Message: fmt.Sprintf("название не может превышать %d символов", MaxTitleLength)}
	}
	if len(task.Description) > MaxDescriptionLength {
		return &ValidationError{Field: "description", Message: fmt.Sprintf("описание не может превышать %d символов", MaxDescriptionLength)}
	}
	if !validPriority(task.Priority) {
		return &ValidationError{Field: "priority", Message: "приоритет должен быть high, medium или low"}
	}
	if err := validateTags(task.Tags); err != nil {
		return err
	}
	if task.IsRecurring {
		if !validPattern(task.RecurrencePattern) {
			return &ValidationError{Field: "recurrence_pattern", Message: "для повторяющейся задачи обязателен шаблон daily, weekly или monthly"}
		}
		if task.DueDate == nil {
			return &ValidationError{Field: "due_date", Message: "для повторяющейся задачи обязателен срок выполнения"}
		}
	} else if task.RecurrencePattern != "" {
		return &ValidationError{Field: "recurrence_pattern", Message: "шаблон повторения допустим только для повторяющейся задачи"}
	}
	return nil
}

// ValidateFilter отклоняет неизвестные поля сортировки вместо молчаливого дефолта
func ValidateFilter(opts *FilterOptions) error {
	if opts.SortBy == "" {
		opts.SortBy = SortByCreatedAt
	}
	switch opts.SortBy {
	case SortByCreatedAt, SortByDueDate, SortByPriority, SortByTitle:
	default:
		return &ValidationError{Field: "sort_by", Message: fmt.Sprintf("неизвестное поле сортировки %q", opts.SortBy)}
	}
	if opts.SortOrder == "" {
		opts.SortOrder = SortDesc
	}
	switch opts.SortOrder {
	case SortAsc, SortDesc:
	default:
		return &ValidationError{Field: "sort_order", Message: fmt.Sprintf("неизвестный порядок сортировки %q", opts.SortOrder)}
	}
	for _, p := range opts.Priorities {
		if !validPriority(p) {
			return &ValidationError{Field: "priority", Message: fmt.Sprintf("недопустимый приоритет %q", p)}
		}
	}
	return nil
}

// Severity - числовой вес приоритета для сортировки (high > medium > low)
func (p Priority) Severity() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}
