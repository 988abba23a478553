// Copyright 2018-2026 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

// Package log provides the structured logger used by every component of the
// supervisor.  It is a thin wrapper around karlmutch/logxi that gives each
// component its own named logger while keeping a single place to change the
// logging backend.
package log

import (
	logxi "github.com/karlmutch/logxi/v1"
)

// Logger is the structured logger handed to every component.  Call sites use
// the key/value calling convention, for example
// logger.Info("admitted row", "id", row.ID, "slot", slot).
type Logger struct {
	name string
	impl logxi.Logger
}

// NewLogger returns a named logger.  The name typically identifies the
// component emitting the message, for example "scheduler" or "supervisor".
// Verbosity is controlled the same way logxi always has been, via the LOGXI
// and LOGXI_FORMAT environment variables.
func NewLogger(name string) (l *Logger) {
	return &Logger{
		name: name,
		impl: logxi.New(name),
	}
}

// Name returns the component name this logger was created for.
func (l *Logger) Name() string {
	return l.name
}

func (l *Logger) Trace(msg string, args ...interface{}) {
	l.impl.Trace(msg, args...)
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	l.impl.Debug(msg, args...)
}

func (l *Logger) Info(msg string, args ...interface{}) {
	l.impl.Info(msg, args...)
}

func (l *Logger) Warn(msg string, args ...interface{}) error {
	return l.impl.Warn(msg, args...)
}

func (l *Logger) Error(msg string, args ...interface{}) error {
	return l.impl.Error(msg, args...)
}

func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.impl.Fatal(msg, args...)
}
