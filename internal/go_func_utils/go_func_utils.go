package go_func_utils

import "runtime/debug"
import "log"

// SafeGo runs fn on a new goroutine, logging any panic with its stack before
// re-panicking. The terminal UI owns stdout, so a bare panic would otherwise
// vanish with the screen.
func SafeGo(logger *log.Logger, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Printf("PANIC: %v\n%s", r, debug.Stack())
				panic(r)
			}
		}()
		fn()
	}()
}
