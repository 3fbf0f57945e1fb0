package main

import (
	"database/sql"
	"flag"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

func main() {
	dbPath := flag.String("db", "./data/todoapp.db", "Path to SQLite database")
	flag.Parse()

	log.Println("🔄 Создание базы данных...")

	// Убедимся что папка существует
	if err := os.MkdirAll(filepath.Dir(*dbPath), 0755); err != nil {
		log.Fatal("❌ Ошибка создания папки:", err)
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatal("❌ Ошибка открытия БД:", err)
	}
	defer db.Close()

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		log.Fatal("❌ Ошибка подключения:", err)
	}

	// Создаем таблицы
	tables := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT UNIQUE NOT NULL,
			telegram_id INTEGER UNIQUE,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS tasks (
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
		)`,

		`CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user_completed ON tasks(user_id, completed, priority)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_due_date ON tasks(due_date) WHERE due_date IS NOT NULL`,
	}

	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			log.Fatal("❌ Ошибка миграции:", err)
		}
	}

	log.Println("✅ База данных готова:", *dbPath)
}
