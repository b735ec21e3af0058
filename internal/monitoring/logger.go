package monitoring

import (
	"fmt"
	"log"

	"go.uber.org/zap"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger or Init. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var sugar = zap.NewNop().Sugar()

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Init builds the process logger: development output (debug level, console
// encoding) when debug is set, production JSON otherwise. Logf is routed
// through it.
func Init(debug bool) error {
	var (
		z   *zap.Logger
		err error
	)
	if debug {
		z, err = zap.NewDevelopment()
	} else {
		z, err = zap.NewProduction()
	}
	if err != nil {
		return fmt.Errorf("can't initialize zap logger: %w", err)
	}
	UseZap(z)
	return nil
}

// UseZap routes Logf and Logger through z. Tests pass zaptest loggers.
func UseZap(z *zap.Logger) {
	sugar = z.Sugar()
	Logf = z.WithOptions(zap.AddCallerSkip(1)).Sugar().Infof
}

// Logger returns the structured logger set by Init or UseZap. It is a
// no-op logger until then.
func Logger() *zap.SugaredLogger { return sugar }

// Sync flushes buffered log entries.
func Sync() {
	_ = sugar.Sync()
}
