package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"

	"todo-app/internal/logger"
	"todo-app/internal/manager"
	"todo-app/internal/storage"
)

// Интервал опроса ленты "скоро срок"
const notifyInterval = 60 * time.Second

type Bot struct {
	api         *tgbotapi.BotAPI
	taskManager *manager.TaskManager
	userManager *manager.UserManager
}

func NewBot(token string, tm *manager.TaskManager, um *manager.UserManager) (*Bot, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания бота: %v", err)
	}

	log.Printf("Авторизован как %s", bot.Self.UserName)

	return &Bot{
		api:         bot,
		taskManager: tm,
		userManager: um,
	}, nil
}

func (b *Bot) Start() {
	go b.notifyLoop()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates, err := b.api.GetUpdatesChan(u)
	if err != nil {
		log.Fatalf("Ошибка получения updates: %v", err)
	}

	log.Println("Бот запущен и слушает сообщения...")

	for update := range updates {
		if update.Message == nil {
			continue
		}

		go b.handleMessage(update.Message)
	}
}

// notifyLoop опрашивает ленту уведомлений раз в минуту и рассылает
// напоминания о задачах, срок которых наступает в ближайшие 5 минут.
// После отправки задача помечается notification_sent, повторов не будет.
func (b *Bot) notifyLoop() {
	ticker := time.NewTicker(notifyInterval)
	defer ticker.Stop()

	for range ticker.C {
		users, err := b.userManager.ListTelegramUsers()
		if err != nil {
			logger.Error(context.Background(), err, "Не удалось получить пользователей для уведомлений")
			continue
		}

		for _, user := range users {
			tasks, err := b.taskManager.DueSoonTasks(user.ID)
			if err != nil {
				logger.Error(context.Background(), err, "Ошибка чтения ленты уведомлений", "userID", user.ID)
				continue
			}

			for _, task := range tasks {
				text := fmt.Sprintf("⏰ Скоро срок: %s (%s)", task.Title, task.DueDate.Local().Format("15:04"))
				b.sendMessage(user.TelegramID, text)

				if err := b.taskManager.MarkNotificationSent(user.ID, task.ID); err != nil {
					logger.Error(context.Background(), err, "Не удалось отметить уведомление", "taskID", task.ID)
				}
			}
		}
	}
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	ctx := context.Background()

	logger.Info(ctx, "Получено сообщение",
		"user", msg.From.UserName,
		"text", msg.Text,
	)

	user, err := b.userManager.GetOrCreateUserByTelegramID(msg.Chat.ID)
	if err != nil {
		logger.Error(ctx, err, "Не удалось определить пользователя", "chatID", msg.Chat.ID)
		return
	}

	if msg.IsCommand() {
		b.handleCommand(user, msg)
		return
	}

	// Обычный текст добавляем как задачу
	if strings.TrimSpace(msg.Text) != "" {
		b.addTask(user, msg.Chat.ID, msg.Text)
	}
}

func (b *Bot) handleCommand(user *manager.User, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.sendWelcomeMessage(msg.Chat.ID)
	case "add":
		b.addTask(user, msg.Chat.ID, msg.CommandArguments())
	case "list":
		b.listTasks(user, msg.Chat.ID)
	case "due":
		b.listDueTasks(user, msg.Chat.ID)
	case "done":
		b.completeTask(user, msg)
	case "delete":
		b.deleteTask(user, msg)
	case "help":
		b.sendHelp(msg.Chat.ID)
	default:
		b.sendMessage(msg.Chat.ID, "Неизвестная команда. Используйте /help для списка команд.")
	}
}

func (b *Bot) sendWelcomeMessage(chatID int64) {
	text := `🎯 *Добро пожаловать в TodoBot!*

*Доступные команды:*
/add [задача] - Добавить задачу
/list - Показать все задачи
/due - Задачи с ближайшим сроком
/done [номер] - Отметить задачу выполненной
/delete [номер] - Удалить задачу
/help - Помощь

*Примеры:*
/add Купить молоко #shopping
/done 1`

	b.sendMessage(chatID, text)
}

func (b *Bot) sendHelp(chatID int64) {
	b.sendWelcomeMessage(chatID)
}

// addTask разбирает текст: слова с # становятся тегами
func (b *Bot) addTask(user *manager.User, chatID int64, text string) {
	title, tags := parseTitleAndTags(text)
	if title == "" {
		b.sendMessage(chatID, "Укажите текст задачи: /add Купить молоко")
		return
	}

	task, err := b.taskManager.CreateTask(user.ID, manager.Task{Title: title, Tags: tags})
	if err != nil {
		b.sendMessage(chatID, "Не удалось добавить задачу: "+err.Error())
		return
	}

	b.sendMessage(chatID, fmt.Sprintf("✅ Задача #%d добавлена: %s", task.ID, task.Title))
}

func (b *Bot) listTasks(user *manager.User, chatID int64) {
	pending := false
	tasks, err := b.taskManager.FilterTasks(user.ID, manager.FilterOptions{
		Completed: &pending,
		SortBy:    manager.SortByDueDate,
		SortOrder: manager.SortAsc,
	})
	if err != nil {
		b.sendMessage(chatID, "Ошибка получения задач: "+err.Error())
		return
	}
	if len(tasks) == 0 {
		b.sendMessage(chatID, "Нет активных задач 🎉")
		return
	}

	var sb strings.Builder
	sb.WriteString("📋 *Ваши задачи:*\n")
	for _, task := range tasks {
		sb.WriteString(fmt.Sprintf("\n%d. %s", task.ID, task.Title))
		if task.DueDate != nil {
			sb.WriteString(" — " + task.DueDate.Local().Format("02.01 15:04"))
		}
		if task.IsRecurring {
			sb.WriteString(" 🔁")
		}
	}
	b.sendMessage(chatID, sb.String())
}

func (b *Bot) listDueTasks(user *manager.User, chatID int64) {
	tasks, err := b.taskManager.DueSoonTasks(user.ID)
	if err != nil {
		b.sendMessage(chatID, "Ошибка получения задач: "+err.Error())
		return
	}
	if len(tasks) == 0 {
		b.sendMessage(chatID, "В ближайшие 5 минут сроков нет")
		return
	}

	var sb strings.Builder
	sb.WriteString("⏰ *Скоро срок:*\n")
	for _, task := range tasks {
		sb.WriteString(fmt.Sprintf("\n%d. %s — %s", task.ID, task.Title, task.DueDate.Local().Format("15:04")))
	}
	b.sendMessage(chatID, sb.String())
}

func (b *Bot) completeTask(user *manager.User, msg *tgbotapi.Message) {
	id, err := strconv.Atoi(strings.TrimSpace(msg.CommandArguments()))
	if err != nil {
		b.sendMessage(msg.Chat.ID, "Укажите номер задачи: /done 1")
		return
	}

	completed, next, err := b.taskManager.CompleteTask(user.ID, id)
	switch {
	case errors.Is(err, manager.ErrTaskNotFound):
		b.sendMessage(msg.Chat.ID, fmt.Sprintf("Задача #%d не найдена", id))
		return
	case errors.Is(err, manager.ErrTaskAlreadyCompleted):
		b.sendMessage(msg.Chat.ID, fmt.Sprintf("Задача #%d уже выполнена", id))
		return
	case err != nil:
		b.sendMessage(msg.Chat.ID, "Ошибка: "+err.Error())
		return
	}

	text := fmt.Sprintf("✅ Задача #%d выполнена: %s", completed.ID, completed.Title)
	if next != nil {
		text += fmt.Sprintf("\n🔁 Создана следующая: #%d со сроком %s",
			next.ID, next.DueDate.Local().Format("02.01.2006 15:04"))
	} else if completed.IsRecurring {
		text += "\n🏁 Повторение завершено: достигнута дата окончания"
	}
	b.sendMessage(msg.Chat.ID, text)
}

func (b *Bot) deleteTask(user *manager.User, msg *tgbotapi.Message) {
	id, err := strconv.Atoi(strings.TrimSpace(msg.CommandArguments()))
	if err != nil {
		b.sendMessage(msg.Chat.ID, "Укажите номер задачи: /delete 1")
		return
	}

	if err := b.taskManager.DeleteTask(user.ID, id); err != nil {
		if errors.Is(err, manager.ErrTaskNotFound) {
			b.sendMessage(msg.Chat.ID, fmt.Sprintf("Задача #%d не найдена", id))
			return
		}
		b.sendMessage(msg.Chat.ID, "Ошибка: "+err.Error())
		return
	}

	b.sendMessage(msg.Chat.ID, fmt.Sprintf("🗑 Задача #%d удалена", id))
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := b.api.Send(msg); err != nil {
		logger.Error(context.Background(), err, "Ошибка отправки сообщения", "chatID", chatID)
	}
}

func parseTitleAndTags(text string) (string, []string) {
	var words, tags []string
	for _, word := range strings.Fields(text) {
		if strings.HasPrefix(word, "#") && len(word) > 1 {
			tags = append(tags, strings.TrimPrefix(word, "#"))
			continue
		}
		words = append(words, word)
	}
	return strings.Join(words, " "), tags
}

func main() {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		log.Fatal("Не задан TELEGRAM_BOT_TOKEN")
	}

	dbPath := os.Getenv("TODO_DB_PATH")
	if dbPath == "" {
		dbPath = "./data/todoapp.db"
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		log.Fatalf("Ошибка открытия хранилища: %v", err)
	}
	defer store.Close()

	tm := manager.NewTaskManager(store)
	um := manager.NewUserManager(store)

	bot, err := NewBot(token, tm, um)
	if err != nil {
		log.Fatalf("Ошибка запуска бота: %v", err)
	}

	bot.Start()
}
