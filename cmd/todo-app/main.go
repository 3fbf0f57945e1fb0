package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	server "todo-app"
	"todo-app/internal/logger"
	"todo-app/internal/manager"
	"todo-app/internal/storage"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	dbPath := flag.String("db", "./data/todoapp.db", "Path to SQLite database (empty for in-memory storage)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debug {
		logger.SetLevel(logger.LevelDebug)
	}

	ctx := context.Background()

	var store manager.Storage
	if *dbPath == "" {
		logger.Info(ctx, "Используется in-memory хранилище")
		store = storage.NewMemoryStorage()
	} else {
		if err := os.MkdirAll(filepath.Dir(*dbPath), 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating data directory: %v\n", err)
			os.Exit(1)
		}
		s, err := storage.NewSQLiteStorage(*dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
			os.Exit(1)
		}
		store = s
	}
	defer store.Close()

	tm := manager.NewTaskManager(store)
	um := manager.NewUserManager(store)

	r := server.NewRouter(tm, um)
	r.Handle("/metrics", promhttp.Handler())

	logger.Info(ctx, "Сервер запущен", "addr", *addr)
	if err := http.ListenAndServe(*addr, r); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}
