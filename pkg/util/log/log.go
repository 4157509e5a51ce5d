package log

import (
	"fmt"
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	dslog "github.com/grafana/dskit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Logger is a shared go-kit logger. Components take their logger as an
	// argument, this one is for the binary.
	Logger = log.NewNopLogger()

	plogger *prometheusLogger
)

// InitLogger initialises the global logger with the given format ("logfmt"
// or "json") and level. Log lines are counted by level on reg.
func InitLogger(format string, lvl dslog.Level, reg prometheus.Registerer) (log.Logger, error) {
	pl, err := newPrometheusLogger(os.Stderr, format, lvl, reg)
	if err != nil {
		return nil, err
	}
	plogger = pl
	Logger = log.With(plogger, "caller", log.Caller(3))
	return Logger, nil
}

type prometheusLogger struct {
	baseLogger  log.Logger
	logMessages *prometheus.CounterVec
}

func newPrometheusLogger(w io.Writer, format string, lvl dslog.Level, reg prometheus.Registerer) (*prometheusLogger, error) {
	var logger log.Logger
	switch format {
	case "", "logfmt":
		logger = log.NewLogfmtLogger(log.NewSyncWriter(w))
	case "json":
		logger = log.NewJSONLogger(log.NewSyncWriter(w))
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
	logger = level.NewFilter(logger, lvl.Option)

	logMessages := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Namespace: "searchplan",
		Name:      "log_messages_total",
		Help:      "Total number of log messages.",
	}, []string{"level"})
	for _, l := range []level.Value{level.DebugValue(), level.InfoValue(), level.WarnValue(), level.ErrorValue()} {
		logMessages.WithLabelValues(l.String())
	}

	return &prometheusLogger{
		baseLogger:  log.With(logger, "ts", log.DefaultTimestampUTC),
		logMessages: logMessages,
	}, nil
}

// Log increments the appropriate Prometheus counter depending on the log level.
func (pl *prometheusLogger) Log(kv ...interface{}) error {
	pl.baseLogger.Log(kv...)
	l := "unknown"
	for i := 1; i < len(kv); i += 2 {
		if v, ok := kv[i].(level.Value); ok {
			l = v.String()
			break
		}
	}
	pl.logMessages.WithLabelValues(l).Inc()
	return nil
}

// CheckFatal prints an error and exits with error code 1 if err is non-nil.
func CheckFatal(location string, err error, logger log.Logger) {
	if err == nil {
		return
	}
	logger = level.Error(logger)
	if location != "" {
		logger = log.With(logger, "msg", "error "+location)
	}
	// %+v gets the stack trace from errors using github.com/pkg/errors
	errStr := fmt.Sprintf("%+v", err)
	fmt.Fprintln(os.Stderr, errStr)

	logger.Log("err", errStr)
	os.Exit(1)
}
