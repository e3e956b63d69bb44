package bt

import (
	"log"
	"runtime/debug"
)

// SafeGo runs fn on a new goroutine and logs any panic before re-raising it.
// The curses UI owns the terminal, so a bare panic to stdout would be lost.
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
