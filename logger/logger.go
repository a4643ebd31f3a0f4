package logger

import (
	"io"
	"os"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"chatrelay/common"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	"github.com/segmentio/ksuid"
)

const (
	logFilePrefix = "chatrelay-"
	logFileSuffix = ".log"
)

var once sync.Once

var log zerolog.Logger

func GetLogLevel() zerolog.Level {
	logLevel, err := strconv.Atoi(os.Getenv("CHATRELAY_LOG_LEVEL"))
	if err != nil {
		logLevel = int(zerolog.InfoLevel) // default to INFO
	}

	return zerolog.Level(logLevel)
}

// Get returns the process logger. Console output goes to stderr so that the
// chat subcommand can keep stdout for the assistant's reply.
func Get() zerolog.Logger {
	once.Do(func() {
		zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
		zerolog.TimeFieldFormat = time.RFC3339Nano

		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}

		var output io.Writer = consoleWriter
		if logDir := os.Getenv("CHATRELAY_LOG_DIR"); logDir != "" {
			fileWriter, err := common.NewDailyRotatingWriter(logDir, logFilePrefix, logFileSuffix)
			if err == nil {
				output = zerolog.MultiLevelWriter(consoleWriter, fileWriter)
			}
		}

		log = newLogger(output, GetLogLevel())
	})

	return log
}

func newLogger(output io.Writer, level zerolog.Level) zerolog.Logger {
	var gitRevision, goVersion string
	buildInfo, ok := debug.ReadBuildInfo()
	if ok {
		goVersion = buildInfo.GoVersion
		for _, v := range buildInfo.Settings {
			if v.Key == "vcs.revision" {
				gitRevision = v.Value
				break
			}
		}
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("git_revision", gitRevision).
		Str("go_version", goVersion).
		Logger()
}

// GinMiddleware logs one line per request and stores a request-scoped logger
// carrying a fresh request id in the request context.
func GinMiddleware(base zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestId := ksuid.New().String()
		reqLogger := base.With().Str("requestId", requestId).Logger()
		c.Request = c.Request.WithContext(reqLogger.WithContext(c.Request.Context()))

		c.Next()

		status := c.Writer.Status()
		event := reqLogger.Info()
		if status >= 500 {
			event = reqLogger.Error()
		} else if status >= 400 {
			event = reqLogger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}
