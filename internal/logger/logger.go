package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

type Level int

const (
	LevelInfo Level = iota
	LevelDebug
	LevelQuiet // warnings and errors only
)

type Logger struct {
	json bool
	l    *logrus.Logger
}

func New(jsonOutput bool) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	if jsonOutput {
		l.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{logrus.FieldKeyTime: "ts"},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableQuote: true})
	}
	return &Logger{json: jsonOutput, l: l}
}

func (l *Logger) SetLevel(level Level) {
	if l == nil {
		return
	}
	switch level {
	case LevelDebug:
		l.l.SetLevel(logrus.DebugLevel)
	case LevelQuiet:
		l.l.SetLevel(logrus.WarnLevel)
	default:
		l.l.SetLevel(logrus.InfoLevel)
	}
}

func (l *Logger) SetOutput(w io.Writer) {
	if l != nil {
		l.l.SetOutput(w)
	}
}

func (l *Logger) log(level logrus.Level, msg string, fields map[string]any) {
	if l == nil {
		return
	}
	l.l.WithFields(logrus.Fields(fields)).Log(level, msg)
}

func (l *Logger) Debug(msg string, fields map[string]any) { l.log(logrus.DebugLevel, msg, fields) }
func (l *Logger) Info(msg string, fields map[string]any)  { l.log(logrus.InfoLevel, msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]any)  { l.log(logrus.WarnLevel, msg, fields) }
func (l *Logger) Error(msg string, fields map[string]any) { l.log(logrus.ErrorLevel, msg, fields) }

// JSONEnabled reports whether this logger is configured to emit JSON output.
func (l *Logger) JSONEnabled() bool { return l != nil && l.json }
