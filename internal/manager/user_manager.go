package manager

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"todo-app/internal/logger"
)

// User - владелец задач. Идентичность приходит извне
// (device_id из заголовка или telegram_id из бота), здесь она только хранится.
type User struct {
	ID         int       `json:"id"`
	DeviceID   string    `json:"device_id"`
	TelegramID int64     `json:"telegram_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type UserManager struct {
	mu      sync.Mutex
	storage Storage
}

func NewUserManager(storage Storage) *UserManager {
	return &UserManager{storage: storage}
}

// GenerateDeviceID создает уникальный ID устройства
func (um *UserManager) GenerateDeviceID() string {
	return uuid.NewString()
}

// CreateUser создает нового пользователя
func (um *UserManager) CreateUser(deviceID string, telegramID int64) (*User, error) {
	um.mu.Lock()
	defer um.mu.Unlock()

	user := &User{
		DeviceID:   deviceID,
		TelegramID: telegramID,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}

	id, err := um.storage.CreateUser(user)
	if err != nil {
		return nil, err
	}
	user.ID = id
	logger.Info(context.Background(), "Пользователь создан", "userID", id, "deviceID", deviceID)
	return user, nil
}

// GetUserByID возвращает пользователя по ID
func (um *UserManager) GetUserByID(userID int) (*User, error) {
	return um.storage.GetUserByID(userID)
}

// GetOrCreateUserByDeviceID возвращает пользователя по device_id,
// создавая его при первом обращении
func (um *UserManager) GetOrCreateUserByDeviceID(deviceID string) (*User, error) {
	um.mu.Lock()
	defer um.mu.Unlock()

	user, err := um.storage.GetUserByDeviceID(deviceID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	user = &User{
		DeviceID:  deviceID,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	id, err := um.storage.CreateUser(user)
	if err != nil {
		return nil, err
	}
	user.ID = id
	logger.Info(context.Background(), "Пользователь создан по device ID", "userID", id, "deviceID", deviceID)
	return user, nil
}

// GetOrCreateUserByTelegramID возвращает пользователя по Telegram ID,
// создавая его при первом обращении
func (um *UserManager) GetOrCreateUserByTelegramID(telegramID int64) (*User, error) {
	um.mu.Lock()
	defer um.mu.Unlock()

	user, err := um.storage.GetUserByTelegramID(telegramID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	user = &User{
		DeviceID:   um.GenerateDeviceID(),
		TelegramID: telegramID,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	id, err := um.storage.CreateUser(user)
	if err != nil {
		return nil, err
	}
	user.ID = id
	logger.Info(context.Background(), "Пользователь создан по Telegram ID", "userID", id, "telegramID", telegramID)
	return user, nil
}

// ListTelegramUsers возвращает пользователей с привязанным Telegram
// (для цикла уведомлений бота)
func (um *UserManager) ListTelegramUsers() ([]User, error) {
	return um.storage.ListTelegramUsers()
}
