package storage

import (
	"sort"
	"strings"
	"sync"
	"time"

	"todo-app/internal/manager"
)

// MemoryStorage - полная in-memory реализация manager.Storage.
// Семантика фильтрации и сортировки совпадает с SQLiteStorage,
// используется в тестах и в режиме запуска без базы.
type MemoryStorage struct {
	mu         sync.Mutex
	tasks      map[int]manager.Task
	users      map[int]manager.User
	nextTaskID int
	nextUserID int
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tasks:      make(map[int]manager.Task),
		users:      make(map[int]manager.User),
		nextTaskID: 1,
		nextUserID: 1,
	}
}

func (m *MemoryStorage) AddTask(task *manager.Task) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task.ID = m.nextTaskID
	m.nextTaskID++
	m.tasks[task.ID] = cloneTask(*task)
	return task.ID, nil
}

func (m *MemoryStorage) GetTask(userID, id int) (*manager.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok || task.UserID != userID {
		return nil, manager.ErrTaskNotFound
	}
	task = cloneTask(task)
	return &task, nil
}

func (m *MemoryStorage) SaveTask(task *manager.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.tasks[task.ID]
	if !ok || current.UserID != task.UserID {
		return manager.ErrTaskNotFound
	}
	m.tasks[task.ID] = cloneTask(*task)
	return nil
}

func (m *MemoryStorage) DeleteTask(userID, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok || task.UserID != userID {
		return manager.ErrTaskNotFound
	}
	delete(m.tasks, id)

	// Отвязываем детей: ссылка на родителя слабая, дети не удаляются
	for childID, child := range m.tasks {
		if child.ParentTaskID != nil && *child.ParentTaskID == id {
			child.ParentTaskID = nil
			m.tasks[childID] = child
		}
	}
	return nil
}

func (m *MemoryStorage) FilterTasks(userID int, now time.Time, opts manager.FilterOptions) ([]manager.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var tasks []manager.Task
	for _, task := range m.tasks {
		if task.UserID != userID {
			continue
		}
		if !matchesFilter(task, now, opts) {
			continue
		}
		tasks = append(tasks, cloneTask(task))
	}

	sortTasks(tasks, opts)
	return tasks, nil
}

func matchesFilter(task manager.Task, now time.Time, opts manager.FilterOptions) bool {
	if opts.Search != "" && !matchesSearch(task, opts.Search) {
		return false
	}
	if opts.Completed != nil && task.Completed != *opts.Completed {
		return false
	}
	if len(opts.Priorities) > 0 {
		found := false
		for _, p := range opts.Priorities {
			if task.Priority == p {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(opts.Tags) > 0 {
		found := false
		for _, want := range opts.Tags {
			for _, have := range task.Tags {
				if have == want {
					found = true
					break
				}
			}
		}
		if !found {
			return false
		}
	}
	// Задачи без срока не попадают под границы диапазона
	if opts.DueFrom != nil && (task.DueDate == nil || task.DueDate.Before(*opts.DueFrom)) {
		return false
	}
	if opts.DueTo != nil && (task.DueDate == nil || task.DueDate.After(*opts.DueTo)) {
		return false
	}
	if opts.Overdue != nil {
		overdue := !task.Completed && task.DueDate != nil && task.DueDate.Before(now)
		if overdue != *opts.Overdue {
			return false
		}
	}
	return true
}

// matchesSearch - регистронезависимое вхождение подстроки в title или
// description. Фолдинг регистра всегда в Go, общий для обоих хранилищ
func matchesSearch(task manager.Task, search string) bool {
	needle := strings.ToLower(search)
	return strings.Contains(strings.ToLower(task.Title), needle) ||
		strings.Contains(strings.ToLower(task.Description), needle)
}

func sortTasks(tasks []manager.Task, opts manager.FilterOptions) {
	asc := opts.SortOrder == manager.SortAsc
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		switch opts.SortBy {
		case manager.SortByDueDate:
			// Задачи без срока всегда после задач со сроком,
			// независимо от направления сортировки
			if (a.DueDate == nil) != (b.DueDate == nil) {
				return b.DueDate == nil
			}
			if a.DueDate != nil && !a.DueDate.Equal(*b.DueDate) {
				if asc {
					return a.DueDate.Before(*b.DueDate)
				}
				return a.DueDate.After(*b.DueDate)
			}
		case manager.SortByPriority:
			// high > medium > low по степени важности, не по алфавиту
			if a.Priority.Severity() != b.Priority.Severity() {
				if asc {
					return a.Priority.Severity() < b.Priority.Severity()
				}
				return a.Priority.Severity() > b.Priority.Severity()
			}
		case manager.SortByTitle:
			if a.Title != b.Title {
				if asc {
					return a.Title < b.Title
				}
				return a.Title > b.Title
			}
		default:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				if asc {
					return a.CreatedAt.Before(b.CreatedAt)
				}
				return a.CreatedAt.After(b.CreatedAt)
			}
		}
		return a.ID < b.ID
	})
}

func (m *MemoryStorage) CompleteTask(userID, id int, now time.Time) (*manager.Task, *manager.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok || task.UserID != userID {
		return nil, nil, manager.ErrTaskNotFound
	}
	if task.Completed {
		return nil, nil, manager.ErrTaskAlreadyCompleted
	}

	task.Completed = true
	completedAt := now
	task.CompletedAt = &completedAt
	task.UpdatedAt = now
	m.tasks[id] = cloneTask(task)

	child := manager.NextInstance(&task, now)
	if child != nil {
		child.ID = m.nextTaskID
		m.nextTaskID++
		m.tasks[child.ID] = cloneTask(*child)
	}

	completed := cloneTask(task)
	return &completed, child, nil
}

func (m *MemoryStorage) DueSoonTasks(userID int, now time.Time, window time.Duration) ([]manager.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deadline := now.Add(window)
	var tasks []manager.Task
	for _, task := range m.tasks {
		if task.UserID != userID || task.Completed || task.NotificationSent {
			continue
		}
		if task.DueDate == nil || task.DueDate.Before(now) || task.DueDate.After(deadline) {
			continue
		}
		tasks = append(tasks, cloneTask(task))
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].DueDate.Before(*tasks[j].DueDate)
	})
	return tasks, nil
}

func (m *MemoryStorage) MarkNotificationSent(userID, id int, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok || task.UserID != userID {
		return manager.ErrTaskNotFound
	}
	task.NotificationSent = true
	task.UpdatedAt = now
	m.tasks[id] = task
	return nil
}

// Users

func (m *MemoryStorage) CreateUser(user *manager.User) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user.ID = m.nextUserID
	m.nextUserID++
	m.users[user.ID] = *user
	return user.ID, nil
}

func (m *MemoryStorage) GetUserByID(id int) (*manager.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return nil, manager.ErrUserNotFound
	}
	return &user, nil
}

func (m *MemoryStorage) GetUserByDeviceID(deviceID string) (*manager.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, user := range m.users {
		if user.DeviceID == deviceID {
			u := user
			return &u, nil
		}
	}
	return nil, manager.ErrUserNotFound
}

func (m *MemoryStorage) GetUserByTelegramID(telegramID int64) (*manager.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, user := range m.users {
		if user.TelegramID == telegramID {
			u := user
			return &u, nil
		}
	}
	return nil, manager.ErrUserNotFound
}

func (m *MemoryStorage) UpdateUser(user *manager.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[user.ID]; !ok {
		return manager.ErrUserNotFound
	}
	user.UpdatedAt = time.Now().UTC()
	m.users[user.ID] = *user
	return nil
}

func (m *MemoryStorage) ListTelegramUsers() ([]manager.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var users []manager.User
	for _, user := range m.users {
		if user.TelegramID != 0 {
			users = append(users, user)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

// cloneTask копирует задачу вместе со слайсом тегов,
// чтобы вызывающий не мог изменить данные хранилища
func cloneTask(task manager.Task) manager.Task {
	task.Tags = append([]string(nil), task.Tags...)
	return task
}
