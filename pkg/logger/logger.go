package logger

import (
	"bytes"
	"fmt"
	"io"
	"log/syslog"
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

// timeFormat is the timestamp layout used in every emitted line.
const timeFormat = "2006-01-02 15:04:05.000"

// levelNames are the upper case level names, padded to a common width.
var levelNames = map[log.Lvl]string{
	log.LvlCrit:  "CRITICAL",
	log.LvlError: "ERROR   ",
	log.LvlWarn:  "WARNING ",
	log.LvlInfo:  "INFO    ",
	log.LvlDebug: "DEBUG   ",
	log.LvlTrace: "TRACE   ",
}

// Format renders records as "<name> <time> <LEVEL> <msg> k=v ...".
func Format(name string) log.Format {
	return log.FormatFunc(func(r *log.Record) []byte {
		b := new(bytes.Buffer)
		fmt.Fprintf(b, "%-12s %s %s %s", name, r.Time.Format(timeFormat), levelNames[r.Lvl], r.Msg)
		for i := 0; i+1 < len(r.Ctx); i += 2 {
			fmt.Fprintf(b, " %v=%s", r.Ctx[i], formatValue(r.Ctx[i+1]))
		}
		b.WriteByte('\n')
		return b.Bytes()
	})
}

func formatValue(v interface{}) string {
	var s string
	switch v := v.(type) {
	case error:
		s = v.Error()
	case fmt.Stringer:
		s = v.String()
	default:
		s = fmt.Sprintf("%+v", v)
	}
	if s == "" || strings.ContainsAny(s, " =\"\t\n") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// Config is the set of options for the root log handler.
type Config struct {
	Name   string    // Logger name printed on every line and used as syslog tag
	Level  string    // Maximum verbosity: crit, error, warn, info, debug, trace
	Syslog bool      // Emit to the local syslog daemon instead of Output
	Output io.Writer // Stream used when syslog is disabled
}

// Handler builds the root handler described by the config.
func Handler(cfg Config) (log.Handler, error) {
	lvl, err := log.LvlFromString(cfg.Level)
	if err != nil {
		return nil, err
	}
	var handler log.Handler
	if cfg.Syslog {
		if handler, err = log.SyslogHandler(syslog.LOG_DAEMON|syslog.LOG_DEBUG, cfg.Name, Format(cfg.Name)); err != nil {
			return nil, err
		}
	} else {
		handler = log.StreamHandler(cfg.Output, Format(cfg.Name))
	}
	return log.LvlFilterHandler(lvl, handler), nil
}

// NSQProducerLogger is a helper that wraps the log messages emitted by the NSQ
// client into log messages native to this project.
type NSQProducerLogger struct {
	Logger log.Logger
}

// Output implements the logger interface used by NSQ producers. Lines look
// like "INF    1 (127.0.0.1:4150) connecting to nsqd".
func (l *NSQProducerLogger) Output(maxdepth int, s string) error {
	level, s := splitLevel(s)

	id, s := splitWord(s)
	addr, s := splitWord(s)
	addr = strings.Trim(addr, "()")

	emit(l.Logger.New("id", id, "nsqd", addr), level, "Bus producer emitted log", s)
	return nil
}

// NSQConsumerLogger is a helper that wraps the log messages emitted by the NSQ
// client into log messages native to this project.
type NSQConsumerLogger struct {
	Logger log.Logger
}

// Output implements the logger interface used by NSQ consumers. Lines look
// like "INF    1 [corosync/node-3] querying nsqlookupd".
func (l *NSQConsumerLogger) Output(maxdepth int, s string) error {
	level, s := splitLevel(s)

	id, s := splitWord(s)
	sub, s := splitWord(s)
	sub = strings.Trim(sub, "[]")

	emit(l.Logger.New("id", id, "sub", sub), level, "Bus consumer emitted log", s)
	return nil
}

func splitLevel(s string) (string, string) {
	if len(s) < 3 {
		return "", s
	}
	return s[:3], strings.TrimSpace(s[3:])
}

func splitWord(s string) (string, string) {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

func emit(logger log.Logger, level string, msg string, s string) {
	switch level {
	case "DBG":
		logger.Trace(msg, "msg", s)
	case "INF":
		logger.Debug(msg, "msg", s)
	case "WRN":
		logger.Warn(msg, "msg", s)
	case "ERR":
		logger.Error(msg, "msg", s)
	default:
		logger.Error(strings.Replace(msg, "emitted", "emitted unknown", 1), "msg", s)
	}
}
