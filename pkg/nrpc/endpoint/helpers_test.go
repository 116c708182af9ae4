package endpoint_test

import (
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// waitThisOrTimeout runs cb in its own goroutine and reports whether it
// finished before duration elapsed, carried forward from the teacher's
// test/testing.go idiom of the same name.
func waitThisOrTimeout(cb func(), duration time.Duration) bool {
	done := make(chan bool)
	go func() {
		cb()
		done <- true
	}()
	select {
	case <-done:
		return true
	case <-time.After(duration):
		return false
	}
}
