// Package logger writes prefixed log lines from a background goroutine so
// callers never block on output. The surface is what the chat service
// actually calls: Info/Infof, Errorf, and duration logging via
// DeferLogDuration.
package logger

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

const (
	asyncBufferSize = 8192
	slowThreshold   = 100 * time.Millisecond
)

var (
	prefix string
	// With LOG_LEVEL=debug every duration line is written, not only slow ones.
	allDurations bool
	ch           chan string
	once         sync.Once
)

func initWorker() {
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "trace":
		allDurations = true
	}
	ch = make(chan string, asyncBufferSize)
	go func() {
		for msg := range ch {
			log.Print(msg)
		}
	}()
}

func enqueue(msg string) {
	once.Do(initWorker)
	select {
	case ch <- msg:
	default:
		// Buffer full: drop the line rather than block the caller.
	}
}

// SetPrefix sets the tag prepended to every subsequent log line (e.g. "api").
func SetPrefix(p string) {
	prefix = p
}

func tag() string {
	if prefix == "" {
		return ""
	}
	return "[" + prefix + "] "
}

// Info writes an info line (asynchronously).
func Info(v ...any) {
	enqueue(tag() + fmt.Sprint(v...))
}

// Infof formats and writes an info line (asynchronously).
func Infof(format string, v ...any) {
	enqueue(tag() + fmt.Sprintf(format, v...))
}

// Errorf formats and writes an error line (asynchronously).
func Errorf(format string, v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprintf(format, v...))
}

// DeferLogDuration reports a function's elapsed time in milliseconds, for
// use as defer logger.DeferLogDuration("HandlerName", time.Now())().
// Calls faster than 100ms are skipped unless LOG_LEVEL=debug.
func DeferLogDuration(fn string, start time.Time) func() {
	return func() {
		elapsed := time.Since(start)
		if allDurations || elapsed >= slowThreshold {
			enqueue(fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
		}
	}
}
