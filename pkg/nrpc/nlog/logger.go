// Package nlog provides the leveled logger interface used across every
// go-nrpc package, plus a logrus-backed default implementation.
package nlog

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Logger is the logging contract every nrpc component depends on. A caller
// may supply its own implementation at construction time; components never
// reach for a global logger.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})
	Panic(v ...interface{})
	Panicf(format string, v ...interface{})

	// ToggleDebug enables or disables Debug/Debugf output and returns the
	// previous state.
	ToggleDebug(value bool) bool
}

// DefaultLogger is the logger used when a caller does not supply one. It
// wraps logrus and adds a handful of color-highlighted lifecycle helpers.
type DefaultLogger struct {
	entry *logrus.Entry
	debug bool
}

// NewDefault builds the default logger, writing to stderr.
func NewDefault() *DefaultLogger {
	base := logrus.New()
	base.Out = os.Stderr
	base.SetLevel(logrus.InfoLevel)
	return &DefaultLogger{entry: logrus.NewEntry(base)}
}

func (l *DefaultLogger) Info(v ...interface{})  { l.entry.Info(v...) }
func (l *DefaultLogger) Warn(v ...interface{})  { l.entry.Warn(v...) }
func (l *DefaultLogger) Error(v ...interface{}) { l.entry.Error(v...) }
func (l *DefaultLogger) Fatal(v ...interface{}) { l.entry.Fatal(v...) }
func (l *DefaultLogger) Panic(v ...interface{}) { l.entry.Panic(v...) }

func (l *DefaultLogger) Infof(format string, v ...interface{})  { l.entry.Infof(format, v...) }
func (l *DefaultLogger) Warnf(format string, v ...interface{})  { l.entry.Warnf(format, v...) }
func (l *DefaultLogger) Errorf(format string, v ...interface{}) { l.entry.Errorf(format, v...) }
func (l *DefaultLogger) Fatalf(format string, v ...interface{}) { l.entry.Fatalf(format, v...) }
func (l *DefaultLogger) Panicf(format string, v ...interface{}) { l.entry.Panicf(format, v...) }

func (l *DefaultLogger) Debug(v ...interface{}) {
	if l.debug {
		l.entry.Debug(v...)
	}
}

func (l *DefaultLogger) Debugf(format string, v ...interface{}) {
	if l.debug {
		l.entry.Debugf(format, v...)
	}
}

func (l *DefaultLogger) ToggleDebug(value bool) bool {
	previous := l.debug
	l.debug = value
	if value {
		l.entry.Logger.SetLevel(logrus.DebugLevel)
	} else {
		l.entry.Logger.SetLevel(logrus.InfoLevel)
	}
	return previous
}

// Lifecycle event colors, reviving the colorama highlighting commented out
// in the original Python sockets (server in magenta, reverse/client-driven
// calls in red).
var (
	serverColor = color.New(color.FgMagenta)
	clientColor = color.New(color.FgRed)
)

// ClientTag renders "client:<id>" the way the original print statements did.
func ClientTag(clientID uint64) string {
	return clientColor.Sprintf("client:%d", clientID)
}

// ServerTag renders the literal "server" tag.
func ServerTag() string {
	return serverColor.Sprint("server")
}

// Connected logs a client-added event at debug level.
func Connected(l Logger, clientID uint64) {
	l.Debugf("client added: %s <-> %s", ServerTag(), ClientTag(clientID))
}

// Validated logs a client-validated event at debug level.
func Validated(l Logger, clientID uint64) {
	l.Debugf("client validated: %s <-> %s", ServerTag(), ClientTag(clientID))
}

// Lost logs a client-loss event at warn level.
func Lost(l Logger, clientID uint64) {
	l.Warnf("lost client: %s", fmt.Sprint(clientID))
}

// Forwarded logs a forwarding hop.
func Forwarded(l Logger, from, to uint64, method string) {
	l.Debugf("call forwarded: %s <-> %s <-> %s (%s)", ClientTag(from), ServerTag(), ClientTag(to), method)
}
