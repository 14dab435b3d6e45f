// SPDX-License-Identifier: Apache-2.0

// Package lixlog wraps pterm behind a small logging interface, the same
// shape as pgroll's pkg/migrations Logger, so the engine and CLI share one
// logging surface and tests can swap in a no-op implementation.
package lixlog

import "github.com/pterm/pterm"

// Logger is the logging surface used throughout the engine.
type Logger interface {
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	LogCommit(commitID string, changeCount int)
	LogCheckpoint(tipCommitID, workingCommitID string)
	LogVersionSwitch(from, to string)
	LogPluginInstalled(key string)
	LogCacheInvalidation(cache string, targets int)
}

type ptermLogger struct {
	logger pterm.Logger
}

// New returns a Logger backed by pterm.DefaultLogger.
func New() Logger {
	return &ptermLogger{logger: pterm.DefaultLogger}
}

func (l *ptermLogger) Info(msg string, args ...any)  { l.logger.Info(msg, l.logger.Args(args...)) }
func (l *ptermLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, l.logger.Args(args...)) }
func (l *ptermLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, l.logger.Args(args...)) }
func (l *ptermLogger) Error(msg string, args ...any) { l.logger.Error(msg, l.logger.Args(args...)) }

func (l *ptermLogger) LogCommit(commitID string, changeCount int) {
	l.logger.Info("committed", l.logger.Args("commit_id", commitID, "change_count", changeCount))
}

func (l *ptermLogger) LogCheckpoint(tipCommitID, workingCommitID string) {
	l.logger.Info("checkpoint created", l.logger.Args("tip_commit_id", tipCommitID, "working_commit_id", workingCommitID))
}

func (l *ptermLogger) LogVersionSwitch(from, to string) {
	l.logger.Info("switched active version", l.logger.Args("from", from, "to", to))
}

func (l *ptermLogger) LogPluginInstalled(key string) {
	l.logger.Info("installed plugin", l.logger.Args("key", key))
}

func (l *ptermLogger) LogCacheInvalidation(cache string, targets int) {
	l.logger.Debug("invalidated cache", l.logger.Args("cache", cache, "targets", targets))
}

type noopLogger struct{}

// NewNoop returns a Logger all of whose methods are no-ops, for library
// embedding and tests.
func NewNoop() Logger { return &noopLogger{} }

func (noopLogger) Info(msg string, args ...any)                  {}
func (noopLogger) Debug(msg string, args ...any)                 {}
func (noopLogger) Warn(msg string, args ...any)                  {}
func (noopLogger) Error(msg string, args ...any)                 {}
func (noopLogger) LogCommit(string, int)                         {}
func (noopLogger) LogCheckpoint(string, string)                  {}
func (noopLogger) LogVersionSwitch(string, string)                {}
func (noopLogger) LogPluginInstalled(string)                     {}
func (noopLogger) LogCacheInvalidation(string, int)               {}
