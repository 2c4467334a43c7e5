package librarian

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain enables goroutine leak detection for all tests in the package.
// The pipeline runs one goroutine per Ask; a leaked one means a stream
// was never drained or canceled properly.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
