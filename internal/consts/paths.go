// Package consts holds process-wide path and context-key constants shared
// across the scheduler and memory packages.
package consts

import (
	"os"
	"path/filepath"
)

const (
	// AppDirName is the dotfile directory created under the user's home.
	AppDirName = ".agentcore"
	// ConfigFileName is the default config file name inside AppDirName.
	ConfigFileName = "config.yaml"
	// SchedulerDBFileName is the default sqlite file for jobs/runs.
	SchedulerDBFileName = "scheduler.db"
	// MemoryDBDirName is the default badger directory for the vector store.
	MemoryDBDirName = "memory-index"
	// HistoryDBFileName is the default sqlite file for the memory history log.
	HistoryDBFileName = "history.db"
)

// HomeDir returns the application's dotfile directory, creating nothing.
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, AppDirName)
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	return filepath.Join(HomeDir(), ConfigFileName)
}

// DefaultSchedulerDBPath returns the default path for the job/run store.
func DefaultSchedulerDBPath() string {
	return filepath.Join(HomeDir(), SchedulerDBFileName)
}

// DefaultMemoryIndexDir returns the default path for the vector store.
func DefaultMemoryIndexDir() string {
	return filepath.Join(HomeDir(), MemoryDBDirName)
}

// DefaultHistoryDBPath returns the default path for the memory history log.
func DefaultHistoryDBPath() string {
	return filepath.Join(HomeDir(), HistoryDBFileName)
}

// CtxKey is the type used for context value keys across the module.
type CtxKey string

// CtxKeyLogID is the context key carrying a per-request/per-run log identifier.
const CtxKeyLogID CtxKey = "log_id"
