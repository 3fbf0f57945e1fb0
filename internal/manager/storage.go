package manager

import "time"

// Storage - абстракция хранилища. Все операции с задачами
// ограничены владельцем: userID обязателен и проверяется в хранилище.
type Storage interface {
	// Tasks
	AddTask(task *Task) (int, error)
	GetTask(userID, id int) (*Task, error)
	SaveTask(task *Task) error
	DeleteTask(userID, id int) error
	FilterTasks(userID int, now time.Time, opts FilterOptions) ([]Task, error)

	// Завершение с порождением следующего экземпляра (атомарно)
	CompleteTask(userID, id int, now time.Time) (*Task, *Task, error)

	// Лента уведомлений
	DueSoonTasks(userID int, now time.Time, window time.Duration) ([]Task, error)
	MarkNotificationSent(userID, id int, now time.Time) error

	// Users
	CreateUser(user *User) (int, error)
	GetUserByID(id int) (*User, error)
	GetUserByDeviceID(deviceID string) (*User, error)
	GetUserByTelegramID(telegramID int64) (*User, error)
	UpdateUser(user *User) error
	ListTelegramUsers() ([]User, error)

	// Закрытие соединения
	Close() error
}
