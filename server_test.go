package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"todo-app/internal/manager"
	"todo-app/internal/models"
	"todo-app/internal/storage"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := storage.NewMemoryStorage()
	srv := httptest.NewServer(NewRouter(manager.NewTaskManager(store), manager.NewUserManager(store)))
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, deviceID string, body interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}

	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if deviceID != "" {
		req.Header.Set("X-Device-ID", deviceID)
	}

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Ошибка запроса %s %s: %v", method, path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Ошибка декодирования ответа: %v", err)
	}
}

func createTask(t *testing.T, srv *httptest.Server, deviceID string, req models.CreateTaskRequest) manager.Task {
	t.Helper()
	resp := doRequest(t, srv, http.MethodPost, "/tasks", deviceID, req)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Ожидался 201, получено %d", resp.StatusCode)
	}
	var task manager.Task
	decodeJSON(t, resp, &task)
	return task
}

func TestRequiresDeviceID(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, srv, http.MethodGet, "/tasks", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Без X-Device-ID ожидался 401, получено %d", resp.StatusCode)
	}
}

func TestCreateAndGetTask(t *testing.T) {
	srv := newTestServer(t)

	due := time.Date(2026, time.May, 1, 10, 0, 0, 0, time.UTC)
	created := createTask(t, srv, "device-1", models.CreateTaskRequest{
		Title:    "Купить молоко",
		Priority: "high",
		Tags:     []string{"shopping"},
		DueDate:  &due,
	})

	if created.ID == 0 || created.Priority != manager.PriorityHigh {
		t.Errorf("Создание: %+v", created)
	}

	resp := doRequest(t, srv, http.MethodGet, fmt.Sprintf("/tasks/%d", created.ID), "device-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Ожидался 200, получено %d", resp.StatusCode)
	}
	var got manager.Task
	decodeJSON(t, resp, &got)
	if got.Title != "Купить молоко" || !got.DueDate.Equal(due) {
		t.Errorf("Чтение: %+v", got)
	}
}

func TestCreateTaskValidationError(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, srv, http.MethodPost, "/tasks", "device-1", models.CreateTaskRequest{
		Title: "ok", Priority: "urgent",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Ожидался 400, получено %d", resp.StatusCode)
	}
	var errResp models.ErrorResponse
	decodeJSON(t, resp, &errResp)
	if errResp.Field != "priority" {
		t.Errorf("Ошибка должна указывать поле priority: %+v", errResp)
	}
}

func TestListTasksFilters(t *testing.T) {
	srv := newTestServer(t)

	createTask(t, srv, "device-1", models.CreateTaskRequest{Title: "Важная", Priority: "high", Tags: []string{"work"}})
	createTask(t, srv, "device-1", models.CreateTaskRequest{Title: "Неважная", Priority: "low"})

	resp := doRequest(t, srv, http.MethodGet, "/tasks?priority=high&tags=work", "device-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Ожидался 200, получено %d", resp.StatusCode)
	}
	var list models.ListTasksResponse
	decodeJSON(t, resp, &list)
	if list.Total != 1 || list.Tasks[0].Title != "Важная" {
		t.Errorf("Фильтр по приоритету и тегу: %+v", list)
	}

	resp = doRequest(t, srv, http.MethodGet, "/tasks?search=неважн", "device-1", nil)
	decodeJSON(t, resp, &list)
	if list.Total != 1 || list.Tasks[0].Title != "Неважная" {
		t.Errorf("Поиск без учета регистра: %+v", list)
	}
}

func TestListTasksRejectsUnknownSort(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, srv, http.MethodGet, "/tasks?sort_by=updated_at", "device-1", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Неизвестное sort_by должно давать 400, получено %d", resp.StatusCode)
	}
	var errResp models.ErrorResponse
	decodeJSON(t, resp, &errResp)
	if errResp.Field != "sort_by" {
		t.Errorf("Ошибка должна указывать поле sort_by: %+v", errResp)
	}

	resp = doRequest(t, srv, http.MethodGet, "/tasks?completed=maybe", "device-1", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Некорректный completed должен давать 400, получено %d", resp.StatusCode)
	}
}

func TestTenantIsolationOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	task := createTask(t, srv, "device-1", models.CreateTaskRequest{Title: "Моя задача"})

	// Чужое устройство видит 404, а не 403
	resp := doRequest(t, srv, http.MethodGet, fmt.Sprintf("/tasks/%d", task.ID), "device-2", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Чужая задача должна быть 404, получено %d", resp.StatusCode)
	}

	resp = doRequest(t, srv, http.MethodGet, "/tasks", "device-2", nil)
	var list models.ListTasksResponse
	decodeJSON(t, resp, &list)
	if list.Total != 0 {
		t.Errorf("Чужой список должен быть пуст: %+v", list)
	}
}

func TestCompleteRecurringTaskOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	due := time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC)
	task := createTask(t, srv, "device-1", models.CreateTaskRequest{
		Title:             "Еженедельный отчет",
		DueDate:           &due,
		IsRecurring:       true,
		RecurrencePattern: "weekly",
	})

	resp := doRequest(t, srv, http.MethodPost, fmt.Sprintf("/tasks/%d/complete", task.ID), "device-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Ожидался 200, получено %d", resp.StatusCode)
	}
	var result models.CompleteTaskResponse
	decodeJSON(t, resp, &result)
	if !result.Task.Completed {
		t.Error("Задача должна стать completed")
	}
	if result.NextTask == nil {
		t.Fatal("Ожидался next_task")
	}
	if !result.NextTask.DueDate.Equal(due.AddDate(0, 0, 7)) {
		t.Errorf("Срок следующего экземпляра: %v", result.NextTask.DueDate)
	}
	if result.RecurrenceEnded {
		t.Error("recurrence_ended должен быть false, пока экземпляры создаются")
	}

	// Повторное завершение - конфликт
	resp = doRequest(t, srv, http.MethodPost, fmt.Sprintf("/tasks/%d/complete", task.ID), "device-1", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Повторное завершение должно давать 409, получено %d", resp.StatusCode)
	}
}

func TestCompleteTaskRecurrenceEnded(t *testing.T) {
	srv := newTestServer(t)

	due := time.Date(2026, time.January, 31, 9, 0, 0, 0, time.UTC)
	end := time.Date(2026, time.February, 15, 0, 0, 0, 0, time.UTC)
	task := createTask(t, srv, "device-1", models.CreateTaskRequest{
		Title:             "Ежемесячный платеж",
		DueDate:           &due,
		IsRecurring:       true,
		RecurrencePattern: "monthly",
		RecurrenceEndDate: &end,
	})

	resp := doRequest(t, srv, http.MethodPost, fmt.Sprintf("/tasks/%d/complete", task.ID), "device-1", nil)
	var result models.CompleteTaskResponse
	decodeJSON(t, resp, &result)
	if result.NextTask != nil {
		t.Errorf("Экземпляра после даты окончания быть не должно: %+v", result.NextTask)
	}
	if !result.RecurrenceEnded {
		t.Error("recurrence_ended должен быть true")
	}
}

func TestUpdateTaskOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	task := createTask(t, srv, "device-1", models.CreateTaskRequest{Title: "Старое название"})

	resp := doRequest(t, srv, http.MethodPatch, fmt.Sprintf("/tasks/%d", task.ID), "device-1",
		map[string]interface{}{"title": "Новое название", "priority": "low"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Ожидался 200, получено %d", resp.StatusCode)
	}
	var updated manager.Task
	decodeJSON(t, resp, &updated)
	if updated.Title != "Новое название" || updated.Priority != manager.PriorityLow {
		t.Errorf("Обновление: %+v", updated)
	}

	// Невалидное значение отклоняется
	resp = doRequest(t, srv, http.MethodPatch, fmt.Sprintf("/tasks/%d", task.ID), "device-1",
		map[string]interface{}{"title": strings.Repeat("a", 501)})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Слишком длинное название должно давать 400, получено %d", resp.StatusCode)
	}
}

func TestDueFeedAndNotificationSent(t *testing.T) {
	srv := newTestServer(t)

	soon := time.Now().UTC().Add(2 * time.Minute)
	far := time.Now().UTC().Add(time.Hour)
	inWindow := createTask(t, srv, "device-1", models.CreateTaskRequest{Title: "Скоро", DueDate: &soon})
	createTask(t, srv, "device-1", models.CreateTaskRequest{Title: "Нескоро", DueDate: &far})

	resp := doRequest(t, srv, http.MethodGet, "/tasks/due", "device-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Ожидался 200, получено %d", resp.StatusCode)
	}
	var tasks []manager.Task
	decodeJSON(t, resp, &tasks)
	if len(tasks) != 1 || tasks[0].ID != inWindow.ID {
		t.Fatalf("В ленте должна быть только задача в окне: %+v", tasks)
	}

	resp = doRequest(t, srv, http.MethodPost, fmt.Sprintf("/tasks/%d/notification-sent", inWindow.ID), "device-1", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Ожидался 204, получено %d", resp.StatusCode)
	}

	// После отметки лента пуста
	resp = doRequest(t, srv, http.MethodGet, "/tasks/due", "device-1", nil)
	decodeJSON(t, resp, &tasks)
	if len(tasks) != 0 {
		t.Errorf("Отмеченная задача не должна возвращаться повторно: %+v", tasks)
	}
}

func TestDeleteTaskOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	task := createTask(t, srv, "device-1", models.CreateTaskRequest{Title: "Удаляемая"})

	resp := doRequest(t, srv, http.MethodDelete, fmt.Sprintf("/tasks/%d", task.ID), "device-1", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Ожидался 204, получено %d", resp.StatusCode)
	}

	resp = doRequest(t, srv, http.MethodDelete, fmt.Sprintf("/tasks/%d", task.ID), "device-1", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Повторное удаление должно давать 404, получено %d", resp.StatusCode)
	}
}

func TestExportImport(t *testing.T) {
	srv := newTestServer(t)

	createTask(t, srv, "device-1", models.CreateTaskRequest{Title: "Первая", Tags: []string{"work"}})
	createTask(t, srv, "device-1", models.CreateTaskRequest{Title: "Вторая", Priority: "high"})

	resp := doRequest(t, srv, http.MethodGet, "/tasks/export", "device-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Ожидался 200, получено %d", resp.StatusCode)
	}
	var exported []models.CreateTaskRequest
	decodeJSON(t, resp, &exported)
	if len(exported) != 2 {
		t.Fatalf("Экспорт должен вернуть обе задачи: %d", len(exported))
	}

	// Импорт в профиль другого устройства
	resp = doRequest(t, srv, http.MethodPost, "/tasks/import", "device-2", exported)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Ожидался 200, получено %d", resp.StatusCode)
	}
	var result map[string]int
	decodeJSON(t, resp, &result)
	if result["imported"] != 2 {
		t.Errorf("Ожидались 2 импортированные задачи: %v", result)
	}

	resp = doRequest(t, srv, http.MethodGet, "/tasks", "device-2", nil)
	var list models.ListTasksResponse
	decodeJSON(t, resp, &list)
	if list.Total != 2 {
		t.Errorf("Импортированные задачи должны появиться в списке: %+v", list)
	}

	// CSV-формат
	resp = doRequest(t, srv, http.MethodGet, "/tasks/export?format=csv", "device-1", nil)
	defer resp.Body.Close()
	if got := resp.Header.Get("Content-Type"); got != "text/csv" {
		t.Errorf("Ожидался text/csv, получено %q", got)
	}
}

func TestImportRejectsWholeBatchOnInvalidTask(t *testing.T) {
	srv := newTestServer(t)

	batch := []models.CreateTaskRequest{
		{Title: "Валидная"},
		{Title: "ok", Priority: "urgent"},
	}

	resp := doRequest(t, srv, http.MethodPost, "/tasks/import", "device-1", batch)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Ожидался 400, получено %d", resp.StatusCode)
	}
	var errResp models.ErrorResponse
	decodeJSON(t, resp, &errResp)
	if errResp.Field != "priority" {
		t.Errorf("Ошибка должна указывать поле priority: %+v", errResp)
	}

	// Пакет отклоняется целиком: валидная задача тоже не создается
	resp = doRequest(t, srv, http.MethodGet, "/tasks", "device-1", nil)
	var list models.ListTasksResponse
	decodeJSON(t, resp, &list)
	if list.Total != 0 {
		t.Errorf("Частичный импорт недопустим: %+v", list)
	}
}
