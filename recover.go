package connector

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/oarkflow/connector/logger"
)

// RecoverPanic logs a recovered panic with its stack. It must be deferred
// directly.
func RecoverPanic(log logger.Logger, labelGenerator func() string) {
	if r := recover(); r != nil {
		defer func() {
			if rr := recover(); rr != nil {
				// If logging or labelGenerator panics, just print a minimal message
				fmt.Printf("[PANIC] - error during panic recovery: %v\n", rr)
			}
		}()
		pc, file, line, ok := runtime.Caller(2)
		funcName := "unknown"
		if ok {
			fn := runtime.FuncForPC(pc)
			if fn != nil {
				funcName = fn.Name()
			}
		}
		label := "unknown"
		if labelGenerator != nil {
			label = labelGenerator()
		}
		log.Error("recovered from panic",
			logger.F("label", label),
			logger.F("func", funcName),
			logger.F("location", fmt.Sprintf("%s:%d", file, line)),
			logger.F("panic", fmt.Sprint(r)),
			logger.F("stack", string(debug.Stack())))
	}
}

func RecoverTitle() string {
	pc, _, line, ok := runtime.Caller(1)
	if !ok {
		return "Unknown"
	}
	fn := runtime.FuncForPC(pc)
	funcName := "unknown"
	if fn != nil {
		funcName = fn.Name()
	}
	return fmt.Sprintf("%s:%d", funcName, line)
}
