// Package logprefix tags every message of a component's log with the component name
package logprefix

import "github.com/cyclopcam/logs"

// PrefixLogger writes to the underlying log, but all messages are prefixed with a string of your choice
type PrefixLogger struct {
	Log    logs.Log
	Prefix string
}

// New returns a logger whose messages start with prefix, followed by a space
func New(log logs.Log, prefix string) *PrefixLogger {
	return NewNoSpace(log, prefix+" ")
}

// NewNoSpace doesn't add a space onto 'prefix'
func NewNoSpace(log logs.Log, prefix string) *PrefixLogger {
	return &PrefixLogger{
		Log:    log,
		Prefix: prefix,
	}
}

// Close is a no-op. The underlying log belongs to whoever created it, and is shared
// by all the prefix loggers that wrap it.
func (l *PrefixLogger) Close() {
}

func (l *PrefixLogger) Debugf(format string, a ...any) {
	l.Log.Debugf(l.Prefix+format, a...)
}

func (l *PrefixLogger) Infof(format string, a ...any) {
	l.Log.Infof(l.Prefix+format, a...)
}

func (l *PrefixLogger) Warnf(format string, a ...any) {
	l.Log.Warnf(l.Prefix+format, a...)
}

func (l *PrefixLogger) Errorf(format string, a ...any) {
	l.Log.Errorf(l.Prefix+format, a...)
}

func (l *PrefixLogger) Criticalf(format string, a ...any) {
	l.Log.Criticalf(l.Prefix+format, a...)
}

var _ logs.Log = (*PrefixLogger)(nil)
