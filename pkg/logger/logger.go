// Package logger provides the ambient logging used across the engine: a
// structured logrus backend for leveled events, and fatih/color for the
// decorative console furniture (banner, section headers) printed once at
// startup. The Printf-style call shape is kept close to the original
// hand-rolled logger so call sites across the engine read the same way.
package logger

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Log levels, kept as named constants for SetLevel callers that don't want
// to depend on logrus directly.
const (
	LevelDebug = iota
	LevelInfo
	LevelWarn
	LevelError
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel sets the minimum log level.
func SetLevel(level int) {
	switch level {
	case LevelDebug:
		base.SetLevel(logrus.DebugLevel)
	case LevelWarn:
		base.SetLevel(logrus.WarnLevel)
	case LevelError:
		base.SetLevel(logrus.ErrorLevel)
	default:
		base.SetLevel(logrus.InfoLevel)
	}
}

// Debug logs a debug-level message.
func Debug(format string, args ...interface{}) {
	base.Debugf(format, args...)
}

// Info logs an info-level message.
func Info(format string, args ...interface{}) {
	base.Infof(format, args...)
}

// Warn logs a warn-level message.
func Warn(format string, args ...interface{}) {
	base.Warnf(format, args...)
}

// Error logs an error-level message.
func Error(format string, args ...interface{}) {
	base.Errorf(format, args...)
}

// Success logs an info-level message tagged to stand out as a positive
// outcome, since logrus has no dedicated level for one.
func Success(format string, args ...interface{}) {
	base.WithField("outcome", "success").Infof(format, args...)
}

// Fatal logs a fatal message and exits the process.
func Fatal(format string, args ...interface{}) {
	base.Fatalf(format, args...)
}

// WithFields returns a logrus entry for call sites that want to attach
// structured context (session address, sequence number, ...) instead of
// interpolating it into the message.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return base.WithFields(fields)
}

// Section prints a decorative section header.
func Section(title string) {
	c := color.New(color.FgCyan)
	border := "═══════════════════════════════════════════════════════════"
	c.Printf("\n╔%s╗\n", border)
	c.Printf("║ %-61s ║\n", title)
	c.Printf("╚%s╝\n\n", border)
}

// Banner prints the application banner once at startup.
func Banner(title, version string) {
	cyan := color.New(color.FgCyan).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Println(cyan("╔═══════════════════════════════════════════════════════════╗"))
	fmt.Printf("%s %s\n", cyan("║"), title)
	fmt.Printf("%s version %s\n", cyan("║"), green(version))
	fmt.Println(cyan("╚═══════════════════════════════════════════════════════════╝"))
}
