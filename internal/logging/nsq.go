package logging

import (
	"strings"

	"github.com/nsqio/go-nsq"
)

// NSQLogger adapts Logger to the go-nsq logger interface. go-nsq prefixes each
// line with a three letter level code which is mapped back to a LogLevel.
type NSQLogger struct {
	l         *Logger
	component string
}

// NewNSQLogger returns an adapter tagging every line with component.
func NewNSQLogger(l *Logger, component string) *NSQLogger {
	return &NSQLogger{l: l, component: component}
}

func (n *NSQLogger) Output(_ int, s string) error {
	level, msg := splitNSQLine(s)
	e := n.l.Plain()
	if n.component != "" {
		e.WithField("component", n.component)
	}
	e.log(level, msg)
	return nil
}

func splitNSQLine(s string) (LogLevel, string) {
	s = strings.TrimRight(s, "\n")
	if len(s) < 3 {
		return LevelInfo, s
	}
	var level LogLevel
	switch s[:3] {
	case "DBG":
		level = LevelDebug
	case "INF":
		level = LevelInfo
	case "WRN":
		level = LevelWarn
	case "ERR":
		level = LevelError
	default:
		return LevelInfo, s
	}
	return level, strings.TrimSpace(s[3:])
}

// NSQLevel maps a LogLevel to the go-nsq level so go-nsq filters early.
func NSQLevel(level LogLevel) nsq.LogLevel {
	switch level {
	case LevelDebug:
		return nsq.LogLevelDebug
	case LevelWarn:
		return nsq.LogLevelWarning
	case LevelError, LevelFatal:
		return nsq.LogLevelError
	}
	return nsq.LogLevelInfo
}
