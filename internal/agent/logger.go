package agent

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides structured logging for loop operations.
type Logger struct {
	zap *zap.Logger
}

// NewLogger creates a Logger that appends JSON records to a file.
// An empty logPath disables logging entirely.
func NewLogger(logPath string, development bool) (*Logger, error) {
	if logPath == "" {
		return &Logger{zap: zap.NewNop()}, nil
	}

	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	var encoderConfig zapcore.EncoderConfig
	if development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(logFile),
		zapcore.InfoLevel,
	)

	return &Logger{zap: zap.New(core)}, nil
}

// Close syncs the logger (should be called on shutdown).
func (l *Logger) Close() error {
	return l.zap.Sync()
}

// ModelTurn logs one completed model stream.
func (l *Logger) ModelTurn(model string, usage int, duration time.Duration, toolCalls int) {
	l.zap.Info("model turn",
		zap.String("model", model),
		zap.Int("total_tokens", usage),
		zap.Duration("duration", duration),
		zap.Int("tool_calls", toolCalls),
	)
}

// Retry logs a stream retry with its classification and wait.
func (l *Logger) Retry(kind string, attempt int, wait time.Duration, err error) {
	l.zap.Info("stream retry",
		zap.String("kind", kind),
		zap.Int("attempt", attempt),
		zap.Duration("wait", wait),
		zap.Error(err),
	)
}

// ContextPruned logs a compaction pass triggered by context overflow.
func (l *Logger) ContextPruned(threadID string, pruned int) {
	l.zap.Info("context pruned",
		zap.String("thread", threadID),
		zap.Int("messages", pruned),
	)
}

// ToolExecuted logs a tool call reaching its terminal status.
func (l *Logger) ToolExecuted(toolName, status string, duration time.Duration) {
	l.zap.Info("tool executed",
		zap.String("tool", toolName),
		zap.String("status", status),
		zap.Duration("duration", duration),
	)
}

// CheckpointAppended logs a post-turn checkpoint.
func (l *Logger) CheckpointAppended(threadID string, idx int, files int) {
	l.zap.Info("checkpoint appended",
		zap.String("thread", threadID),
		zap.Int("index", idx),
		zap.Int("files", files),
	)
}

// Jump logs a checkpoint jump outcome.
func (l *Logger) Jump(threadID string, target int, restored int, err error) {
	if err != nil {
		l.zap.Error("checkpoint jump failed",
			zap.String("thread", threadID),
			zap.Int("target", target),
			zap.Error(err),
		)
		return
	}
	l.zap.Info("checkpoint jump",
		zap.String("thread", threadID),
		zap.Int("target", target),
		zap.Int("restored", restored),
	)
}

// Error logs an error.
func (l *Logger) Error(msg string, err error) {
	l.zap.Error(msg, zap.Error(err))
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.zap.Info(msg, fields...)
}
