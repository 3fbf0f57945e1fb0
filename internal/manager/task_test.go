package manager

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// stubStorage - минимальное хранилище для тестов менеджера
type stubStorage struct {
	added  []Task
	nextID int
}

func (s *stubStorage) AddTask(task *Task) (int, error) {
	s.nextID++
	s.added = append(s.added, *task)
	return s.nextID, nil
}

func (s *stubStorage) GetTask(userID, id int) (*Task, error)  { return nil, ErrTaskNotFound }
func (s *stubStorage) SaveTask(task *Task) error              { return nil }
func (s *stubStorage) DeleteTask(userID, id int) error        { return nil }
func (s *stubStorage) FilterTasks(userID int, now time.Time, opts FilterOptions) ([]Task, error) {
	return nil, nil
}
func (s *stubStorage) CompleteTask(userID, id int, now time.Time) (*Task, *Task, error) {
	return nil, nil, ErrTaskNotFound
}
func (s *stubStorage) DueSoonTasks(userID int, now time.Time, window time.Duration) ([]Task, error) {
	return nil, nil
}
func (s *stubStorage) MarkNotificationSent(userID, id int, now time.Time) error { return nil }
func (s *stubStorage) CreateUser(user *User) (int, error)                       { return 1, nil }
func (s *stubStorage) GetUserByID(id int) (*User, error)                        { return nil, ErrUserNotFound }
func (s *stubStorage) GetUserByDeviceID(deviceID string) (*User, error)         { return nil, ErrUserNotFound }
func (s *stubStorage) GetUserByTelegramID(telegramID int64) (*User, error)      { return nil, ErrUserNotFound }
func (s *stubStorage) UpdateUser(user *User) error                              { return nil }
func (s *stubStorage) ListTelegramUsers() ([]User, error)                       { return nil, nil }
func (s *stubStorage) Close() error                                             { return nil }

func TestCreateTask(t *testing.T) {
	tm := NewTaskManager(&stubStorage{})

	task, err := tm.CreateTask(1, Task{Title: "Купить молоко"})
	if err != nil {
		t.Fatalf("Ошибка при добавлении задачи: %v", err)
	}

	if task.ID != 1 {
		t.Errorf("Ожидался ID=1, получено %d", task.ID)
	}
	if task.UserID != 1 {
		t.Errorf("Задача должна принадлежать владельцу 1, получено %d", task.UserID)
	}
	if task.Priority != PriorityMedium {
		t.Errorf("Приоритет по умолчанию medium, получено %s", task.Priority)
	}
	if task.Completed {
		t.Error("Новая задача должна быть pending")
	}
}

func TestCreateTaskValidation(t *testing.T) {
	tm := NewTaskManager(&stubStorage{})

	tests := []struct {
		name  string
		task  Task
		field string
	}{
		{"пустое название", Task{Title: "   "}, "title"},
		{"слишком длинное название", Task{Title: strings.Repeat("a", 501)}, "title"},
		{"недопустимый приоритет", Task{Title: "ok", Priority: "urgent"}, "priority"},
		{"слишком много тегов", Task{Title: "ok", Tags: []string{
			"t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8", "t9", "t10", "t11"}}, "tags"},
		{"тег с пробелом", Task{Title: "ok", Tags: []string{"плохой тег"}}, "tags"},
		{"повторение без шаблона", Task{Title: "ok", IsRecurring: true}, "recurrence_pattern"},
		{"шаблон без повторения", Task{Title: "ok", RecurrencePattern: RecurrenceDaily}, "recurrence_pattern"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tm.CreateTask(1, tt.task)
			if err == nil {
				t.Fatal("Ожидалась ошибка валидации")
			}
			vErr, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("Ожидалась ValidationError, получено %T", err)
			}
			if vErr.Field != tt.field {
				t.Errorf("Ожидалось поле %q, получено %q", tt.field, vErr.Field)
			}
		})
	}
}

func TestCreateRecurringTaskRequiresDueDate(t *testing.T) {
	tm := NewTaskManager(&stubStorage{})

	_, err := tm.CreateTask(1, Task{
		Title:             "Ежедневная",
		IsRecurring:       true,
		RecurrencePattern: RecurrenceDaily,
	})
	if err == nil {
		t.Fatal("Для повторяющейся задачи без срока ожидалась ошибка")
	}
	vErr, ok := err.(*ValidationError)
	if !ok || vErr.Field != "due_date" {
		t.Errorf("Ожидалась ошибка поля due_date, получено %v", err)
	}
}

func TestCreateTaskWithMaxLength(t *testing.T) {
	tm := NewTaskManager(&stubStorage{})

	// Ровно 500 символов - валидно
	validTitle := strings.Repeat("a", 500)
	if _, err := tm.CreateTask(1, Task{Title: validTitle}); err != nil {
		t.Errorf("Ожидалась успешная валидация для 500 символов: %v", err)
	}

	// 501 символ - ошибка
	if _, err := tm.CreateTask(1, Task{Title: validTitle + "a"}); err == nil {
		t.Error("Ожидалась ошибка при 501 символе")
	}
}

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{" work ", "home", "work", "", "home"})
	if len(got) != 2 || got[0] != "work" || got[1] != "home" {
		t.Errorf("Дубликаты и пустые теги должны убираться: %v", got)
	}
}

func TestValidateFilter(t *testing.T) {
	t.Run("неизвестное поле сортировки", func(t *testing.T) {
		opts := FilterOptions{SortBy: "updated_at"}
		err := ValidateFilter(&opts)
		if err == nil {
			t.Fatal("Неизвестное sort_by должно отклоняться, а не заменяться дефолтом")
		}
		vErr, ok := err.(*ValidationError)
		if !ok || vErr.Field != "sort_by" {
			t.Errorf("Ожидалась ошибка поля sort_by, получено %v", err)
		}
	})

	t.Run("неизвестный порядок сортировки", func(t *testing.T) {
		opts := FilterOptions{SortOrder: "up"}
		if err := ValidateFilter(&opts); err == nil {
			t.Error("Неизвестный sort_order должен отклоняться")
		}
	})

	t.Run("дефолты", func(t *testing.T) {
		var opts FilterOptions
		if err := ValidateFilter(&opts); err != nil {
			t.Fatalf("Пустые параметры валидны: %v", err)
		}
		if opts.SortBy != SortByCreatedAt || opts.SortOrder != SortDesc {
			t.Errorf("Ожидались дефолты created_at/desc, получено %s/%s", opts.SortBy, opts.SortOrder)
		}
	})
}

func TestCreateTaskMetrics(t *testing.T) {
	tm := NewTaskManager(&stubStorage{})

	successBefore := testutil.ToFloat64(addTaskCount.WithLabelValues("success"))
	errorBefore := testutil.ToFloat64(addTaskCount.WithLabelValues("error"))

	if _, err := tm.CreateTask(1, Task{Title: "Valid task"}); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if _, err := tm.CreateTask(1, Task{Title: ""}); err == nil {
		t.Fatal("Expected error for empty title")
	}

	if got := testutil.ToFloat64(addTaskCount.WithLabelValues("success")); got != successBefore+1 {
		t.Errorf("Ожидался прирост success на 1, получено %v -> %v", successBefore, got)
	}
	if got := testutil.ToFloat64(addTaskCount.WithLabelValues("error")); got != errorBefore+1 {
		t.Errorf("Ожидался прирост error на 1, получено %v -> %v", errorBefore, got)
	}
}
