// Package testutils holds shared helpers for the package test suites: a
// verbose development logger and the standard item fixtures.
package testutils

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a development logger at the given verbosity level,
// suitable for tracing operator internals from a failing spec.
func NewLogger(level int) logr.Logger {
	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(zapcore.Level(-level)) //nolint:gosec
	logger, err := config.Build()
	if err != nil {
		return logr.Discard()
	}
	return zapr.NewLogger(logger)
}

// Person is the standard test item: keyed by name, sorted and filtered by
// age, grouped by city.
type Person struct {
	Name string
	Age  int
	City string
}

// PersonKey is the canonical key selector for Person caches.
func PersonKey(p Person) string { return p.Name }

// ByAge orders persons by ascending age.
func ByAge(a, b Person) int { return a.Age - b.Age }

func (p Person) String() string {
	return fmt.Sprintf("%s(%d, %s)", p.Name, p.Age, p.City)
}
