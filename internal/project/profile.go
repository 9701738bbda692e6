package project

import (
	"log/slog"
	"time"
)

// Timed runs fn and logs how long it took. Results pass through untouched.
func Timed[T any](name string, fn func() (T, error)) (T, error) {
	start := time.Now()
	res, err := fn()
	slog.Debug("profile", "op", name, "took", time.Since(start), "ok", err == nil)
	return res, err
}
