// Package logging provides categorized logging for certtrace.
// Every subsystem logs through a named zap logger so a single run can
// be filtered per category when auditing a certification session.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot    Category = "boot"    // Startup, config loading
	CategoryTrace   Category = "trace"   // Entity graph and propagation
	CategoryLedger  Category = "ledger"  // Incident ledger operations
	CategoryImprove Category = "improve" // Improvement queue
	CategoryCertify Category = "certify" // Certification gate and versions
	CategoryReport  Category = "report"  // Regulatory reporting
	CategoryStore   Category = "store"   // SQLite persistence
)

var (
	mu      sync.RWMutex
	root    *zap.Logger
	sugared = make(map[Category]*zap.SugaredLogger)
)

// Init builds the process-wide logger. Verbose enables debug level.
// Safe to call more than once; the last call wins.
func Init(verbose bool) error {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		cfg.Development = true
	}
	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	mu.Lock()
	root = logger
	sugared = make(map[Category]*zap.SugaredLogger)
	mu.Unlock()
	return nil
}

// InitNop installs a no-op logger. Used by tests that do not assert on
// log output.
func InitNop() {
	mu.Lock()
	root = zap.NewNop()
	sugared = make(map[Category]*zap.SugaredLogger)
	mu.Unlock()
}

// Get returns (or creates) the sugared logger for a category.
// Before Init is called a no-op logger is returned.
func Get(category Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := sugared[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := sugared[category]; ok {
		return l
	}
	if root == nil {
		root = zap.NewNop()
	}
	l := root.Named(string(category)).Sugar()
	sugared[category] = l
	return l
}

// Sync flushes buffered log entries. Call at shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		_ = root.Sync()
	}
}

// Convenience functions, one pair per category.

func Boot(format string, args ...interface{})  { Get(CategoryBoot).Infof(format, args...) }
func Trace(format string, args ...interface{}) { Get(CategoryTrace).Infof(format, args...) }
func TraceDebug(format string, args ...interface{}) {
	Get(CategoryTrace).Debugf(format, args...)
}
func Ledger(format string, args ...interface{}) { Get(CategoryLedger).Infof(format, args...) }
func LedgerWarn(format string, args ...interface{}) {
	Get(CategoryLedger).Warnf(format, args...)
}
func Improve(format string, args ...interface{}) { Get(CategoryImprove).Infof(format, args...) }
func Certify(format string, args ...interface{}) { Get(CategoryCertify).Infof(format, args...) }
func CertifyWarn(format string, args ...interface{}) {
	Get(CategoryCertify).Warnf(format, args...)
}
func Report(format string, args ...interface{}) { Get(CategoryReport).Infof(format, args...) }
func ReportWarn(format string, args ...interface{}) {
	Get(CategoryReport).Warnf(format, args...)
}
func Store(format string, args ...interface{}) { Get(CategoryStore).Infof(format, args...) }
func StoreError(format string, args ...interface{}) {
	Get(CategoryStore).Errorf(format, args...)
}
