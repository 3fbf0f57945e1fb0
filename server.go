package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"todo-app/internal/logger"
	"todo-app/internal/manager"
	"todo-app/internal/models"
)

type contextKey string

const userIDKey contextKey = "userID"

func NewRouter(tm *manager.TaskManager, um *manager.UserManager) *chi.Mux {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(deviceAuth(um))

		r.Post("/tasks", createTaskHandler(tm))
		r.Get("/tasks", listTasksHandler(tm))
		r.Get("/tasks/due", dueTasksHandler(tm))
		r.Get("/tasks/export", exportTasksHandler(tm))
		r.Post("/tasks/import", importTasksHandler(tm))
		r.Get("/tasks/{id}", getTaskHandler(tm))
		r.Patch("/tasks/{id}", updateTaskHandler(tm))
		r.Delete("/tasks/{id}", deleteTaskHandler(tm))
		r.Post("/tasks/{id}/complete", completeTaskHandler(tm))
		r.Post("/tasks/{id}/notification-sent", notificationSentHandler(tm))
	})

	return r
}

// deviceAuth превращает заголовок X-Device-ID в пользователя.
// Аутентификация внешняя: здесь идентичности только доверяем.
func deviceAuth(um *manager.UserManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deviceID := r.Header.Get("X-Device-ID")
			if deviceID == "" {
				writeError(w, http.StatusUnauthorized, "требуется заголовок X-Device-ID", "")
				return
			}

			user, err := um.GetOrCreateUserByDeviceID(deviceID)
			if err != nil {
				logger.Error(r.Context(), err, "Не удалось определить пользователя", "deviceID", deviceID)
				w.WriteHeader(http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, user.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func userID(r *http.Request) int {
	id, _ := r.Context().Value(userIDKey).(int)
	return id
}

func createTaskHandler(tm *manager.TaskManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.CreateTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "некорректный JSON", "")
			return
		}
		defer r.Body.Close()

		task, err := tm.CreateTask(userID(r), req.Task())
		if err != nil {
			writeManagerError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, task)
	}
}

func listTasksHandler(tm *manager.TaskManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, err := parseFilterOptions(r)
		if err != nil {
			writeManagerError(w, r, err)
			return
		}

		tasks, err := tm.FilterTasks(userID(r), opts)
		if err != nil {
			writeManagerError(w, r, err)
			return
		}
		if tasks == nil {
			tasks = []manager.Task{}
		}

		writeJSON(w, http.StatusOK, models.ListTasksResponse{Tasks: tasks, Total: len(tasks)})
	}
}

func getTaskHandler(tm *manager.TaskManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := taskID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "некорректный ID задачи", "id")
			return
		}

		task, err := tm.GetTask(userID(r), id)
		if err != nil {
			writeManagerError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, task)
	}
}

func updateTaskHandler(tm *manager.TaskManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := taskID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "некорректный ID задачи", "id")
			return
		}

		var req manager.UpdateTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "некорректный JSON", "")
			return
		}
		defer r.Body.Close()

		task, err := tm.UpdateTask(userID(r), id, req)
		if err != nil {
			writeManagerError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, task)
	}
}

func deleteTaskHandler(tm *manager.TaskManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := taskID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "некорректный ID задачи", "id")
			return
		}

		if err := tm.DeleteTask(userID(r), id); err != nil {
			writeManagerError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func completeTaskHandler(tm *manager.TaskManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := taskID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "некорректный ID задачи", "id")
			return
		}

		completed, next, err := tm.CompleteTask(userID(r), id)
		if err != nil {
			writeManagerError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, models.CompleteTaskResponse{
			Task:            completed,
			NextTask:        next,
			RecurrenceEnded: completed.IsRecurring && next == nil,
		})
	}
}

func dueTasksHandler(tm *manager.TaskManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tasks, err := tm.DueSoonTasks(userID(r))
		if err != nil {
			writeManagerError(w, r, err)
			return
		}
		if tasks == nil {
			tasks = []manager.Task{}
		}

		writeJSON(w, http.StatusOK, tasks)
	}
}

func notificationSentHandler(tm *manager.TaskManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := taskID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "некорректный ID задачи", "id")
			return
		}

		if err := tm.MarkNotificationSent(userID(r), id); err != nil {
			writeManagerError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func exportTasksHandler(tm *manager.TaskManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tasks, err := tm.FilterTasks(userID(r), manager.FilterOptions{})
		if err != nil {
			writeManagerError(w, r, err)
			return
		}

		switch r.URL.Query().Get("format") {
		case "csv":
			w.Header().Set("Content-Type", "text/csv")
			w.Header().Set("Content-Disposition", `attachment; filename="tasks.csv"`)
			if err := models.WriteTasksCSV(w, tasks); err != nil {
				logger.Error(r.Context(), err, "Ошибка экспорта CSV")
			}
		case "", "json":
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Content-Disposition", `attachment; filename="tasks.json"`)
			if err := models.WriteTasksJSON(w, tasks); err != nil {
				logger.Error(r.Context(), err, "Ошибка экспорта JSON")
			}
		default:
			writeError(w, http.StatusBadRequest, "формат должен быть json или csv", "format")
		}
	}
}

func importTasksHandler(tm *manager.TaskManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqs, err := models.ReadTasksJSON(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "")
			return
		}
		defer r.Body.Close()

		tasks := make([]manager.Task, 0, len(reqs))
		for _, req := range reqs {
			tasks = append(tasks, req.Task())
		}

		// Пакет принимается целиком или отклоняется целиком
		imported, err := tm.ImportTasks(userID(r), tasks)
		if err != nil {
			writeManagerError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]int{"imported": len(imported)})
	}
}

func taskID(r *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(r, "id"))
}

// parseFilterOptions разбирает query-параметры списка.
// Отсутствующий параметр означает "без фильтра"; некорректное значение - ошибка
func parseFilterOptions(r *http.Request) (manager.FilterOptions, error) {
	q := r.URL.Query()
	var opts manager.FilterOptions

	opts.Search = strings.TrimSpace(q.Get("search"))

	if v := q.Get("completed"); v != "" {
		b, err := parseBoolStrict(v)
		if err != nil {
			return opts, &manager.ValidationError{Field: "completed", Message: "значение должно быть true или false"}
		}
		opts.Completed = &b
	}

	if v := q.Get("priority"); v != "" {
		for _, p := range strings.Split(v, ",") {
			opts.Priorities = append(opts.Priorities, manager.Priority(strings.TrimSpace(p)))
		}
	}

	if v := q.Get("tags"); v != "" {
		for _, tag := range strings.Split(v, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				opts.Tags = append(opts.Tags, tag)
			}
		}
	}

	if v := q.Get("due_date_from"); v != "" {
		t, err := parseTimeParam(v)
		if err != nil {
			return opts, &manager.ValidationError{Field: "due_date_from", Message: "ожидается RFC3339 или YYYY-MM-DD"}
		}
		opts.DueFrom = &t
	}

	if v := q.Get("due_date_to"); v != "" {
		t, err := parseTimeParam(v)
		if err != nil {
			return opts, &manager.ValidationError{Field: "due_date_to", Message: "ожидается RFC3339 или YYYY-MM-DD"}
		}
		opts.DueTo = &t
	}

	if v := q.Get("is_overdue"); v != "" {
		b, err := parseBoolStrict(v)
		if err != nil {
			return opts, &manager.ValidationError{Field: "is_overdue", Message: "значение должно быть true или false"}
		}
		opts.Overdue = &b
	}

	opts.SortBy = manager.SortField(q.Get("sort_by"))
	opts.SortOrder = manager.SortOrder(q.Get("sort_order"))

	return opts, nil
}

func parseBoolStrict(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, errors.New("not a bool")
}

func parseTimeParam(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error(context.Background(), err, "Ошибка кодирования ответа")
	}
}

func writeError(w http.ResponseWriter, status int, msg, field string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{Error: msg, Field: field})
}

// writeManagerError переводит доменные ошибки в HTTP-статусы.
// Чужая задача неотличима от несуществующей: оба случая - 404
func writeManagerError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *manager.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Message, vErr.Field)
	case errors.Is(err, manager.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, err.Error(), "")
	case errors.Is(err, manager.ErrTaskAlreadyCompleted):
		writeError(w, http.StatusConflict, err.Error(), "")
	default:
		logger.Error(r.Context(), err, "Внутренняя ошибка")
		writeError(w, http.StatusInternalServerError, "внутренняя ошибка сервера", "")
	}
}
