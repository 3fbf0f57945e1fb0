package models

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"todo-app/internal/manager"
)

// CreateTaskRequest - тело HTTP-запроса на создание задачи
type CreateTaskRequest struct {
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	Priority          string     `json:"priority,omitempty"`
	Tags              []string   `json:"tags,omitempty"`
	DueDate           *time.Time `json:"due_date,omitempty"`
	IsRecurring       bool       `json:"is_recurring,omitempty"`
	RecurrencePattern string     `json:"recurrence_pattern,omitempty"`
	RecurrenceEndDate *time.Time `json:"recurrence_end_date,omitempty"`
}

// Task строит доменную задачу из запроса (без валидации - она в manager)
func (r CreateTaskRequest) Task() manager.Task {
	tags := []string{}
	if r.Tags != nil {
		tags = r.Tags
	}
	return manager.Task{
		Title:             r.Title,
		Description:       r.Description,
		Priority:          manager.Priority(r.Priority),
		Tags:              tags,
		DueDate:           r.DueDate,
		IsRecurring:       r.IsRecurring,
		RecurrencePattern: manager.RecurrencePattern(r.RecurrencePattern),
		RecurrenceEndDate: r.RecurrenceEndDate,
	}
}

// ListTasksResponse - ответ списка с общим числом для отображения
type ListTasksResponse struct {
	Tasks []manager.Task `json:"tasks"`
	Total int            `json:"total"`
}

// CompleteTaskResponse - результат завершения задачи.
// NextTask равен nil и для обычных задач, и когда повторение закончилось;
// RecurrenceEnded отличает второй случай.
type CompleteTaskResponse struct {
	Task            *manager.Task `json:"task"`
	NextTask        *manager.Task `json:"next_task"`
	RecurrenceEnded bool          `json:"recurrence_ended"`
}

// ErrorResponse - единый формат ошибки API
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// Резервное копирование задач (экспорт/импорт)

func WriteTasksJSON(w io.Writer, tasks []manager.Task) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(tasks)
}

// ReadTasksJSON читает задачи из резервной копии как запросы на создание
func ReadTasksJSON(r io.Reader) ([]CreateTaskRequest, error) {
	var reqs []CreateTaskRequest
	if err := json.NewDecoder(r).Decode(&reqs); err != nil {
		return nil, fmt.Errorf("некорректный JSON: %v", err)
	}
	return reqs, nil
}

var csvHeader = []string{
	"id", "title", "description", "completed", "priority", "tags",
	"due_date", "is_recurring", "recurrence_pattern", "recurrence_end_date", "created_at",
}

// WriteTasksCSV выгружает задачи в CSV; теги внутри ячейки разделены ";"
func WriteTasksCSV(w io.Writer, tasks []manager.Task) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for _, task := range tasks {
		record := []string{
			strconv.Itoa(task.ID),
			task.Title,
			task.Description,
			strconv.FormatBool(task.Completed),
			string(task.Priority),
			strings.Join(task.Tags, ";"),
			formatTime(task.DueDate),
			strconv.FormatBool(task.IsRecurring),
			string(task.RecurrencePattern),
			formatTime(task.RecurrenceEndDate),
			task.CreatedAt.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
