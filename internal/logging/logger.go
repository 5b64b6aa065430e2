package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/2beens/gymlog/pkg"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// log file rotation
const (
	maxLogFileSizeMB  = 50
	maxLogFileBackups = 30
	maxLogFileAgeDays = 90
)

type LoggerSetupParams struct {
	// LogFileName is a file path; a directory path gets gymlog.log appended.
	// Empty means stdout only.
	LogFileName      string
	LogToStdout      bool
	LogLevel         string
	LogFormatJSON    bool
	Environment      string
	Release          string
	SentryEnabled    bool
	SentryDSN        string
	SentryServerName string
}

// Setup configures the package level logrus logger. The returned flush func must be
// called before exit so buffered sentry events are delivered.
func Setup(params LoggerSetupParams) (flush func()) {
	if params.LogFormatJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	logrus.SetLevel(GetLevel(params.LogLevel))

	flush = func() {}
	if params.SentryEnabled {
		if err := setupSentry(params); err != nil {
			logrus.Errorf("sentry setup: %s", err)
		} else {
			flush = func() { sentry.Flush(sentryFlushTimeout) }
			logrus.Infoln("sentry set up successfully")
		}
	}

	logrus.SetOutput(newOutput(params))
	return flush
}

func setupSentry(params LoggerSetupParams) error {
	err := sentry.Init(sentry.ClientOptions{
		Environment:      params.Environment,
		Release:          params.Release,
		Dsn:              params.SentryDSN,
		TracesSampleRate: 1.0,
		ServerName:       params.SentryServerName,
	})
	if err != nil {
		return err
	}

	logrus.AddHook(NewSentryHook([]logrus.Level{
		logrus.PanicLevel,
		logrus.FatalLevel,
		logrus.ErrorLevel,
	}))
	return nil
}

func newOutput(params LoggerSetupParams) io.Writer {
	if params.LogFileName == "" {
		logrus.Println("writing logs only to STDOUT")
		return os.Stdout
	}

	fileLogger := &lumberjack.Logger{
		Filename:   logFilePath(params.LogFileName),
		MaxSize:    maxLogFileSizeMB,
		MaxBackups: maxLogFileBackups,
		MaxAge:     maxLogFileAgeDays,
		Compress:   true,
	}
	if !params.LogToStdout {
		return fileLogger
	}

	logrus.Printf("writing logs to %s and STDOUT", fileLogger.Filename)
	return pkg.NewCombinedWriter(os.Stdout, fileLogger)
}

func logFilePath(name string) string {
	if strings.HasSuffix(name, string(filepath.Separator)) {
		return filepath.Join(name, "gymlog.log")
	}
	if filepath.Ext(name) != ".log" {
		return name + ".log"
	}
	return name
}

// GetLevel parses a level name case-insensitively and falls back to info.
func GetLevel(level string) logrus.Level {
	parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}
