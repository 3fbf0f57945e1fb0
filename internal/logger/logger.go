package logger

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
)

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelError
)

var level atomic.Int32

func init() {
	level.Store(int32(LevelInfo))
}

func SetLevel(l Level) {
	level.Store(int32(l))
}

func Debug(ctx context.Context, msg string, keysAndValues ...interface{}) {
	if Level(level.Load()) > LevelDebug {
		return
	}
	log.Printf("[DEBUG] %s%s", msg, formatKV(keysAndValues))
}

func Info(ctx context.Context, msg string, keysAndValues ...interface{}) {
	if Level(level.Load()) > LevelInfo {
		return
	}
	log.Printf("[INFO] %s%s", msg, formatKV(keysAndValues))
}

func Error(ctx context.Context, err error, msg string, keysAndValues ...interface{}) {
	if err != nil {
		log.Printf("[ERROR] %s: %v%s", msg, err, formatKV(keysAndValues))
		return
	}
	log.Printf("[ERROR] %s%s", msg, formatKV(keysAndValues))
}

// formatKV собирает пары ключ-значение в " key=value ..."
func formatKV(keysAndValues []interface{}) string {
	if len(keysAndValues) == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		value := "?"
		if i+1 < len(keysAndValues) {
			value = fmt.Sprintf("%v", keysAndValues[i+1])
		}
		fmt.Fprintf(&b, " %s=%s", key, value)
	}
	return b.String()
}
