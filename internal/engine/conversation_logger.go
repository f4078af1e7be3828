package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// ConversationLogEvent is one NDJSON line of the conversation log.
type ConversationLogEvent struct {
	Timestamp  string         `json:"ts"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	Model      string         `json:"model,omitempty"`
	ContentRaw string         `json:"content_raw"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// ConversationLogger records conversation events without blocking the caller.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Close() error             { return nil }

// fileConversationLogger appends events to dir/<user>/<session>.ndjson and,
// optionally, to one global file. A single goroutine owns all file writes.
type fileConversationLogger struct {
	cfg    ConversationLogConfig
	queue  chan ConversationLogEvent
	logger *slog.Logger
	global *os.File

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewConversationLogger starts a conversation logger. A disabled config yields a no-op logger.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled {
		return noopConversationLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}

	l := &fileConversationLogger{
		cfg:    cfg,
		queue:  make(chan ConversationLogEvent, cfg.QueueSize),
		logger: logger,
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0750); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.GlobalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
		if err != nil {
			return nil, fmt.Errorf("open global conversation log: %w", err)
		}
		l.global = f
	}

	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Log queues an event. Events are dropped when the queue is full or the logger is closed.
func (l *fileConversationLogger) Log(event ConversationLogEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("Conversation log queue full, dropping event",
			"user_id", event.UserID,
			"session_id", event.SessionID,
			"event_type", event.EventType,
		)
	}
}

// Close drains queued events and closes the files.
func (l *fileConversationLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	l.wg.Wait()
	if l.global != nil {
		return l.global.Close()
	}
	return nil
}

func (l *fileConversationLogger) run() {
	defer l.wg.Done()
	for event := range l.queue {
		line, err := json.Marshal(event)
		if err != nil {
			l.logger.Warn("Failed to encode conversation event", "error", err)
			continue
		}
		line = append(line, '\n')

		if err := l.appendSessionLine(event, line); err != nil {
			l.logger.Warn("Failed to write conversation log",
				"user_id", event.UserID,
				"session_id", event.SessionID,
				"error", err,
			)
		}
		if l.global != nil {
			if _, err := l.global.Write(line); err != nil {
				l.logger.Warn("Failed to write global conversation log", "error", err)
			}
		}
	}
}

func (l *fileConversationLogger) appendSessionLine(event ConversationLogEvent, line []byte) error {
	dir := filepath.Join(l.cfg.Dir, safePathPart(event.UserID, "anonymous"))
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	path := filepath.Join(dir, safePathPart(event.SessionID, "no-session")+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func safePathPart(s, fallback string) string {
	s = unsafePathChars.ReplaceAllString(strings.TrimSpace(s), "_")
	if s == "" || s == "." || s == ".." {
		return fallback
	}
	return s
}

var (
	ansiCSI = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	ansiOSC = regexp.MustCompile(`\x1b\][^\x07\x1b]*(\x07|\x1b\\)`)
)

// cleanForReadability strips terminal escape sequences and stray control characters.
func cleanForReadability(raw string) string {
	s := ansiOSC.ReplaceAllString(raw, "")
	s = ansiCSI.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
