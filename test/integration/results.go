// results.go provides test result tracking infrastructure.
// Failures are aggregated with go-multierror so the summary lists all of them.
package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
)

// TestResults counts passed and failed checks. Counters are atomic so checks
// may report from several goroutines.
type TestResults struct {
	passed atomic.Int64
	failed atomic.Int64
	total  atomic.Int64
	mu     sync.Mutex
	result *multierror.Error
}

func (tr *TestResults) Pass(testName string) {
	tr.passed.Add(1)
	tr.total.Add(1)
	slog.Info("PASS", "test", testName)
}

func (tr *TestResults) Fail(testName string, reason string) {
	tr.failed.Add(1)
	tr.total.Add(1)

	tr.mu.Lock()
	tr.result = multierror.Append(tr.result, fmt.Errorf("%s: %s", testName, reason))
	tr.mu.Unlock()

	slog.Error("FAIL", "test", testName, "reason", reason)
}

// Check records a pass when ok, a failure with the formatted reason otherwise.
func (tr *TestResults) Check(testName string, ok bool, format string, args ...any) {
	if ok {
		tr.Pass(testName)
		return
	}
	tr.Fail(testName, fmt.Sprintf(format, args...))
}

// Err returns the accumulated failures, or nil when every check passed.
func (tr *TestResults) Err() error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.result.ErrorOrNil()
}

func (tr *TestResults) Summary() {
	passed := tr.passed.Load()
	failed := tr.failed.Load()
	total := tr.total.Load()

	percentage := 0.0
	if total > 0 {
		percentage = float64(passed) / float64(total) * 100
	}

	fmt.Println()
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Test Results: %d/%d passed (%.1f%%)\n", passed, total, percentage)
	if err := tr.Err(); err != nil {
		fmt.Println()
		fmt.Printf("Failed tests (%d):\n", failed)
		fmt.Println(err.Error())
	} else if total > 0 {
		fmt.Println("All tests passed!")
	} else {
		fmt.Println("No tests were run")
	}
	fmt.Println(strings.Repeat("=", 60))
}

var results = new(TestResults)

// section logs a visually distinct section header for test phases.
func section(name string) {
	slog.Info(strings.Repeat("-", 60))
	slog.Info(fmt.Sprintf(">> %s", name))
	slog.Info(strings.Repeat("-", 60))
}
