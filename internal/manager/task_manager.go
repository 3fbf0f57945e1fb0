package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"todo-app/internal/logger"
)

var (
	addTaskCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "todoapp_tasks_added_total",
			Help: "Total number of CreateTask operations",
		},
		[]string{"status"},
	)

	updateTaskCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "todoapp_tasks_updated_total",
			Help: "Total number of UpdateTask operations",
		},
		[]string{"status"},
	)

	completeTaskCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "todoapp_tasks_completed_total",
			Help: "Total number of CompleteTask operations",
		},
		[]string{"status"},
	)

	recurringSpawnedCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "todoapp_recurring_instances_spawned_total",
			Help: "Total number of next instances created on completion",
		},
	)

	dueSoonPollCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "todoapp_due_soon_polls_total",
			Help: "Total number of due-soon feed reads",
		},
	)

	taskTitleLength = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "todoapp_task_title_length_bytes",
			Help:    "Length distribution of task titles",
			Buckets: []float64{25, 50, 100, 250, 500},
		},
	)

	filterTasksDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "todoapp_filter_tasks_duration_seconds",
			Help:    "Duration of FilterTasks operation in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	completeTaskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "todoapp_complete_task_duration_seconds",
			Help:    "Duration of CompleteTask operation in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// TaskManager - бизнес-логика задач поверх хранилища:
// валидация, нормализация, оркестрация завершения, метрики
type TaskManager struct {
	storage Storage
}

func NewTaskManager(storage Storage) *TaskManager {
	return &TaskManager{storage: storage}
}

// prepareTask нормализует поля новой задачи владельца userID,
// проверяет инварианты и проставляет серверные поля
func prepareTask(userID int, task *Task, now time.Time) error {
	task.UserID = userID
	task.Title = strings.TrimSpace(task.Title)
	task.Description = strings.TrimSpace(task.Description)
	if task.Priority == "" {
		task.Priority = PriorityMedium
	}
	task.Tags = NormalizeTags(task.Tags)

	if err := ValidateTask(task); err != nil {
		return err
	}

	task.Completed = false
	task.CompletedAt = nil
	task.NotificationSent = false
	task.ParentTaskID = nil
	task.CreatedAt = now
	task.UpdatedAt = now
	return nil
}

// CreateTask валидирует и сохраняет новую задачу владельца userID
func (tm *TaskManager) CreateTask(userID int, task Task) (*Task, error) {
	if err := prepareTask(userID, &task, time.Now().UTC()); err != nil {
		addTaskCount.WithLabelValues("error").Inc()
		return nil, err
	}

	id, err := tm.storage.AddTask(&task)
	if err != nil {
		addTaskCount.WithLabelValues("error").Inc()
		return nil, err
	}
	task.ID = id

	addTaskCount.WithLabelValues("success").Inc()
	taskTitleLength.Observe(float64(len(task.Title)))
	logger.Info(context.Background(), "Задача создана", "userID", userID, "taskID", id)

	return &task, nil
}

// ImportTasks сохраняет пакет задач целиком: сначала валидируется весь
// пакет, и только потом выполняются вставки. Невалидная задача отклоняет
// импорт до первой записи, ошибка несет номер задачи в пакете
func (tm *TaskManager) ImportTasks(userID int, tasks []Task) ([]Task, error) {
	now := time.Now().UTC()
	for i := range tasks {
		if err := prepareTask(userID, &tasks[i], now); err != nil {
			var vErr *ValidationError
			if errors.As(err, &vErr) {
				return nil, &ValidationError{
					Field:   vErr.Field,
					Message: fmt.Sprintf("задача %d: %s", i+1, vErr.Message),
				}
			}
			return nil, err
		}
	}

	for i := range tasks {
		id, err := tm.storage.AddTask(&tasks[i])
		if err != nil {
			addTaskCount.WithLabelValues("error").Inc()
			return nil, err
		}
		tasks[i].ID = id
		addTaskCount.WithLabelValues("success").Inc()
	}

	logger.Info(context.Background(), "Импортированы задачи", "userID", userID, "count", len(tasks))
	return tasks, nil
}

func (tm *TaskManager) GetTask(userID, id int) (*Task, error) {
	return tm.storage.GetTask(userID, id)
}

// UpdateTask применяет частичное обновление: загружает задачу,
// сливает переданные поля, валидирует результат и сохраняет.
// Любая запись в due_date сбрасывает notification_sent.
func (tm *TaskManager) UpdateTask(userID, id int, req UpdateTaskRequest) (*Task, error) {
	task, err := tm.storage.GetTask(userID, id)
	if err != nil {
		updateTaskCount.WithLabelValues("error").Inc()
		return nil, err
	}

	if req.Title != nil {
		task.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		task.Description = strings.TrimSpace(*req.Description)
	}
	if req.Priority != nil {
		task.Priority = *req.Priority
	}
	if req.Tags != nil {
		task.Tags = NormalizeTags(*req.Tags)
	}
	if req.DueDate != nil {
		task.DueDate = req.DueDate
		task.NotificationSent = false
	} else if req.ClearDueDate {
		task.DueDate = nil
		task.NotificationSent = false
	}
	if req.IsRecurring != nil {
		task.IsRecurring = *req.IsRecurring
		if !task.IsRecurring {
			task.RecurrencePattern = ""
			task.RecurrenceEndDate = nil
		}
	}
	if req.RecurrencePattern != nil {
		task.RecurrencePattern = *req.RecurrencePattern
	}
	if req.RecurrenceEndDate != nil {
		task.RecurrenceEndDate = req.RecurrenceEndDate
	}

	if err := ValidateTask(task); err != nil {
		updateTaskCount.WithLabelValues("error").Inc()
		return nil, err
	}

	task.UpdatedAt = time.Now().UTC()
	if err := tm.storage.SaveTask(task); err != nil {
		updateTaskCount.WithLabelValues("error").Inc()
		return nil, err
	}

	updateTaskCount.WithLabelValues("success").Inc()
	return task, nil
}

func (tm *TaskManager) DeleteTask(userID, id int) error {
	if err := tm.storage.DeleteTask(userID, id); err != nil {
		return err
	}
	logger.Info(context.Background(), "Задача удалена", "userID", userID, "taskID", id)
	return nil
}

// FilterTasks возвращает задачи владельца по типизированным параметрам
func (tm *TaskManager) FilterTasks(userID int, opts FilterOptions) ([]Task, error) {
	startTime := time.Now()
	defer func() {
		filterTasksDuration.Observe(time.Since(startTime).Seconds())
	}()

	if err := ValidateFilter(&opts); err != nil {
		return nil, err
	}
	return tm.storage.FilterTasks(userID, time.Now().UTC(), opts)
}

// CompleteTask переводит задачу в completed и, если задача повторяющаяся
// и дата окончания не достигнута, атомарно создаёт следующий экземпляр.
// Повторное завершение - конфликт (ErrTaskAlreadyCompleted), а не no-op:
// иначе повторный вызов мог бы породить дубликат следующего экземпляра.
func (tm *TaskManager) CompleteTask(userID, id int) (*Task, *Task, error) {
	startTime := time.Now()
	defer func() {
		completeTaskDuration.Observe(time.Since(startTime).Seconds())
	}()

	completed, next, err := tm.storage.CompleteTask(userID, id, time.Now().UTC())
	if err != nil {
		completeTaskCount.WithLabelValues("error").Inc()
		return nil, nil, err
	}

	completeTaskCount.WithLabelValues("success").Inc()
	if next != nil {
		recurringSpawnedCount.Inc()
		logger.Info(context.Background(), "Создан следующий экземпляр задачи",
			"userID", userID, "parentID", id, "taskID", next.ID)
	}

	return completed, next, nil
}

// DueSoonTasks - лента задач, срок которых наступает в ближайшие 5 минут
// (не завершённых и ещё не отмеченных notification_sent)
func (tm *TaskManager) DueSoonTasks(userID int) ([]Task, error) {
	dueSoonPollCount.Inc()
	return tm.storage.DueSoonTasks(userID, time.Now().UTC(), NotificationWindow)
}

// MarkNotificationSent помечает уведомление отправленным (идемпотентно)
func (tm *TaskManager) MarkNotificationSent(userID, id int) error {
	return tm.storage.MarkNotificationSent(userID, id, time.Now().UTC())
}
