package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"todo-app/internal/logger"
	"todo-app/internal/manager"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия БД: %v", err)
	}

	// У sqlite один писатель; одно соединение заодно сериализует
	// проверку и запись в CompleteTask
	db.SetMaxOpenConns(1)

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %v", err)
	}

	// Создаем таблицы
	if err := createTables(db); err != nil {
		return nil, err
	}

	logger.Info(context.Background(), "SQLite база данных инициализирована", "path", dbPath)
	return &SQLiteStorage{db: db}, nil
}

func createTables(db *sql.DB) error {
	createUsersTable := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT UNIQUE NOT NULL,
		telegram_id INTEGER UNIQUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`

	createTasksTable := `
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		completed BOOLEAN NOT NULL DEFAULT FALSE,
		completed_at DATETIME,
		priority TEXT NOT NULL DEFAULT 'medium',
		tags TEXT NOT NULL DEFAULT '',
		due_date DATETIME,
		notification_sent BOOLEAN NOT NULL DEFAULT FALSE,
		is_recurring BOOLEAN NOT NULL DEFAULT FALSE,
		recurrence_pattern TEXT,
		recurrence_end_date DATETIME,
		parent_task_id INTEGER REFERENCES tasks(id),
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user_completed ON tasks(user_id, completed, priority)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_due_date ON tasks(due_date) WHERE due_date IS NOT NULL`,
	}

	if _, err := db.Exec(createUsersTable); err != nil {
		return fmt.Errorf("ошибка создания таблицы users: %v", err)
	}
	if _, err := db.Exec(createTasksTable); err != nil {
		return fmt.Errorf("ошибка создания таблицы tasks: %v", err)
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("ошибка создания индекса: %v", err)
		}
	}

	return nil
}

// Закрытие соединения
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

const taskColumns = `id, user_id, title, description, completed, completed_at, priority, tags,
	due_date, notification_sent, is_recurring, recurrence_pattern, recurrence_end_date,
	parent_task_id, created_at, updated_at`

func (s *SQLiteStorage) AddTask(task *manager.Task) (int, error) {
	query := `
	INSERT INTO tasks (user_id, title, description, completed, completed_at, priority, tags,
		due_date, notification_sent, is_recurring, recurrence_pattern, recurrence_end_date,
		parent_task_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := s.db.Exec(query,
		task.UserID, task.Title, task.Description, task.Completed, nullTime(task.CompletedAt),
		string(task.Priority), joinTags(task.Tags), nullTime(task.DueDate), task.NotificationSent,
		task.IsRecurring, nullPattern(task.RecurrencePattern), nullTime(task.RecurrenceEndDate),
		nullInt(task.ParentTaskID), task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return 0, err
	}

	id, err := result.LastInsertId()
	return int(id), err
}

func (s *SQLiteStorage) GetTask(userID, id int) (*manager.Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks WHERE id = ? AND user_id = ?"

	task, err := scanTask(s.db.QueryRow(query, id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, manager.ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

func (s *SQLiteStorage) SaveTask(task *manager.Task) error {
	query := `
	UPDATE tasks
	SET title = ?, description = ?, completed = ?, completed_at = ?, priority = ?, tags = ?,
		due_date = ?, notification_sent = ?, is_recurring = ?, recurrence_pattern = ?,
		recurrence_end_date = ?, updated_at = ?
	WHERE id = ? AND user_id = ?`

	result, err := s.db.Exec(query,
		task.Title, task.Description, task.Completed, nullTime(task.CompletedAt),
		string(task.Priority), joinTags(task.Tags), nullTime(task.DueDate), task.NotificationSent,
		task.IsRecurring, nullPattern(task.RecurrencePattern), nullTime(task.RecurrenceEndDate),
		task.UpdatedAt, task.ID, task.UserID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return manager.ErrTaskNotFound
	}
	return nil
}

// DeleteTask удаляет задачу и отвязывает её детей
// (ссылка на родителя слабая, дети остаются)
func (s *SQLiteStorage) DeleteTask(userID, id int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec("DELETE FROM tasks WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return manager.ErrTaskNotFound
	}

	if _, err := tx.Exec("UPDATE tasks SET parent_task_id = NULL WHERE parent_task_id = ?", id); err != nil {
		return err
	}

	return tx.Commit()
}

// FilterTasks собирает запрос из типизированных параметров.
// Все предикаты параметризованы; user_id входит в WHERE всегда.
func (s *SQLiteStorage) FilterTasks(userID int, now time.Time, opts manager.FilterOptions) ([]manager.Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks WHERE user_id = ?"
	args := []interface{}{userID}

	if opts.Completed != nil {
		query += " AND completed = ?"
		args = append(args, *opts.Completed)
	}

	if len(opts.Priorities) > 0 {
		placeholders := strings.Repeat("?,", len(opts.Priorities))
		query += " AND priority IN (" + placeholders[:len(placeholders)-1] + ")"
		for _, p := range opts.Priorities {
			args = append(args, string(p))
		}
	}

	// OR-семантика: задача подходит, если содержит хотя бы один из тегов.
	// Обрамление запятыми дает точное совпадение тега, а не подстроки;
	// метасимволы LIKE в значении экранируются, иначе тег a_c нашел бы abc
	if len(opts.Tags) > 0 {
		conds := make([]string, 0, len(opts.Tags))
		for _, tag := range opts.Tags {
			conds = append(conds, `',' || tags || ',' LIKE ? ESCAPE '\'`)
			args = append(args, "%,"+escapeLike(tag)+",%")
		}
		query += " AND (" + strings.Join(conds, " OR ") + ")"
	}

	// Задачи без срока не попадают под границы диапазона
	if opts.DueFrom != nil {
		query += " AND due_date IS NOT NULL AND due_date >= ?"
		args = append(args, *opts.DueFrom)
	}
	if opts.DueTo != nil {
		query += " AND due_date IS NOT NULL AND due_date <= ?"
		args = append(args, *opts.DueTo)
	}

	if opts.Overdue != nil {
		if *opts.Overdue {
			query += " AND completed = ? AND due_date IS NOT NULL AND due_date < ?"
			args = append(args, false, now)
		} else {
			query += " AND (completed = ? OR due_date IS NULL OR due_date >= ?)"
			args = append(args, true, now)
		}
	}

	query += orderClause(opts)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}

	// Поиск выполняется в Go поверх уже отфильтрованных строк: LOWER()
	// в sqlite понижает только ASCII и не находит кириллицу в другом регистре
	if opts.Search != "" {
		matched := tasks[:0]
		for _, task := range tasks {
			if matchesSearch(task, opts.Search) {
				matched = append(matched, task)
			}
		}
		tasks = matched
	}
	return tasks, nil
}

// orderClause - явная двухключевая сортировка: для due_date сначала флаг
// наличия срока (nulls last при любом направлении), для priority - вес
// важности, а не алфавит
func orderClause(opts manager.FilterOptions) string {
	dir := "DESC"
	if opts.SortOrder == manager.SortAsc {
		dir = "ASC"
	}

	switch opts.SortBy {
	case manager.SortByDueDate:
		return " ORDER BY (due_date IS NULL) ASC, due_date " + dir + ", id ASC"
	case manager.SortByPriority:
		return " ORDER BY CASE priority WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END " + dir + ", id ASC"
	case manager.SortByTitle:
		return " ORDER BY title " + dir + ", id ASC"
	default:
		return " ORDER BY created_at " + dir + ", id ASC"
	}
}

// CompleteTask - атомарное завершение: смена статуса родителя и вставка
// следующего экземпляра выполняются в одной транзакции, либо обе, либо ни одной
func (s *SQLiteStorage) CompleteTask(userID, id int, now time.Time) (*manager.Task, *manager.Task, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	query := "SELECT " + taskColumns + " FROM tasks WHERE id = ? AND user_id = ?"
	task, err := scanTask(tx.QueryRow(query, id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, manager.ErrTaskNotFound
		}
		return nil, nil, err
	}
	if task.Completed {
		return nil, nil, manager.ErrTaskAlreadyCompleted
	}

	task.Completed = true
	completedAt := now
	task.CompletedAt = &completedAt
	task.UpdatedAt = now

	_, err = tx.Exec(
		"UPDATE tasks SET completed = ?, completed_at = ?, updated_at = ? WHERE id = ?",
		true, now, now, id,
	)
	if err != nil {
		return nil, nil, err
	}

	child := manager.NextInstance(task, now)
	if child != nil {
		result, err := tx.Exec(`
			INSERT INTO tasks (user_id, title, description, completed, priority, tags,
				due_date, notification_sent, is_recurring, recurrence_pattern,
				recurrence_end_date, parent_task_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			child.UserID, child.Title, child.Description, false, string(child.Priority),
			joinTags(child.Tags), nullTime(child.DueDate), false, child.IsRecurring,
			nullPattern(child.RecurrencePattern), nullTime(child.RecurrenceEndDate),
			nullInt(child.ParentTaskID), child.CreatedAt, child.UpdatedAt,
		)
		if err != nil {
			return nil, nil, err
		}
		childID, err := result.LastInsertId()
		if err != nil {
			return nil, nil, err
		}
		child.ID = int(childID)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return task, child, nil
}

func (s *SQLiteStorage) DueSoonTasks(userID int, now time.Time, window time.Duration) ([]manager.Task, error) {
	query := "SELECT " + taskColumns + ` FROM tasks
	WHERE user_id = ? AND completed = ? AND notification_sent = ?
		AND due_date IS NOT NULL AND due_date >= ? AND due_date <= ?
	ORDER BY due_date ASC`

	rows, err := s.db.Query(query, userID, false, false, now, now.Add(window))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTasks(rows)
}

// MarkNotificationSent идемпотентна: повторная установка флага безвредна
func (s *SQLiteStorage) MarkNotificationSent(userID, id int, now time.Time) error {
	result, err := s.db.Exec(
		"UPDATE tasks SET notification_sent = ?, updated_at = ? WHERE id = ? AND user_id = ?",
		true, now, id, userID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return manager.ErrTaskNotFound
	}
	return nil
}

// Методы для работы с пользователями

func (s *SQLiteStorage) CreateUser(user *manager.User) (int, error) {
	result, err := s.db.Exec(
		"INSERT INTO users (device_id, telegram_id, created_at, updated_at) VALUES (?, ?, ?, ?)",
		user.DeviceID, nullInt64(user.TelegramID), user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return 0, err
	}

	id, err := result.LastInsertId()
	return int(id), err
}

func (s *SQLiteStorage) GetUserByID(id int) (*manager.User, error) {
	return scanUser(s.db.QueryRow(
		"SELECT id, device_id, telegram_id, created_at, updated_at FROM users WHERE id = ?", id))
}

func (s *SQLiteStorage) GetUserByDeviceID(deviceID string) (*manager.User, error) {
	return scanUser(s.db.QueryRow(
		"SELECT id, device_id, telegram_id, created_at, updated_at FROM users WHERE device_id = ?", deviceID))
}

func (s *SQLiteStorage) GetUserByTelegramID(telegramID int64) (*manager.User, error) {
	return scanUser(s.db.QueryRow(
		"SELECT id, device_id, telegram_id, created_at, updated_at FROM users WHERE telegram_id = ?", telegramID))
}

func (s *SQLiteStorage) UpdateUser(user *manager.User) error {
	user.UpdatedAt = time.Now().UTC()
	result, err := s.db.Exec(
		"UPDATE users SET device_id = ?, telegram_id = ?, updated_at = ? WHERE id = ?",
		user.DeviceID, nullInt64(user.TelegramID), user.UpdatedAt, user.ID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return manager.ErrUserNotFound
	}
	return nil
}

func (s *SQLiteStorage) ListTelegramUsers() ([]manager.User, error) {
	rows, err := s.db.Query(
		"SELECT id, device_id, telegram_id, created_at, updated_at FROM users WHERE telegram_id IS NOT NULL ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []manager.User
	for rows.Next() {
		var user manager.User
		var telegramID sql.NullInt64
		if err := rows.Scan(&user.ID, &user.DeviceID, &telegramID, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, err
		}
		user.TelegramID = telegramID.Int64
		users = append(users, user)
	}
	return users, rows.Err()
}

// Вспомогательные функции сканирования и конвертации

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*manager.Task, error) {
	var task manager.Task
	var completedAt, dueDate, recurrenceEnd sql.NullTime
	var tagsStr sql.NullString
	var priority string
	var pattern sql.NullString
	var parentID sql.NullInt64

	err := row.Scan(
		&task.ID, &task.UserID, &task.Title, &task.Description, &task.Completed, &completedAt,
		&priority, &tagsStr, &dueDate, &task.NotificationSent, &task.IsRecurring,
		&pattern, &recurrenceEnd, &parentID, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Priority = manager.Priority(priority)
	if completedAt.Valid {
		t := completedAt.Time
		task.CompletedAt = &t
	}
	if dueDate.Valid {
		t := dueDate.Time
		task.DueDate = &t
	}
	if recurrenceEnd.Valid {
		t := recurrenceEnd.Time
		task.RecurrenceEndDate = &t
	}
	if pattern.Valid {
		task.RecurrencePattern = manager.RecurrencePattern(pattern.String)
	}
	if parentID.Valid {
		id := int(parentID.Int64)
		task.ParentTaskID = &id
	}
	task.Tags = splitTags(tagsStr.String)

	return &task, nil
}

func scanTasks(rows *sql.Rows) ([]manager.Task, error) {
	var tasks []manager.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func scanUser(row rowScanner) (*manager.User, error) {
	var user manager.User
	var telegramID sql.NullInt64
	err := row.Scan(&user.ID, &user.DeviceID, &telegramID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, manager.ErrUserNotFound
		}
		return nil, err
	}
	user.TelegramID = telegramID.Int64
	return &user, nil
}

// escapeLike экранирует метасимволы LIKE в пользовательском значении
// (используется вместе с ESCAPE '\')
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func splitTags(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func nullInt(i *int) interface{} {
	if i == nil {
		return nil
	}
	return *i
}

func nullInt64(i int64) interface{} {
	if i == 0 {
		return nil
	}
	return i
}

func nullPattern(p manager.RecurrencePattern) interface{} {
	if p == "" {
		return nil
	}
	return string(p)
}
