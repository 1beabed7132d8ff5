package domain

import (
	"errors"
	"fmt"
)

// Failure kinds. Every pipeline failure matches exactly one of these with errors.Is.
var (
	ErrUnknownSymbol        = errors.New("unknown symbol")
	ErrFeedUnavailable      = errors.New("feed unavailable")
	ErrInvalidSizing        = errors.New("invalid sizing")
	ErrDispatchFailed       = errors.New("dispatch failed")
	ErrConfigurationMissing = errors.New("configuration missing")
	ErrInvalidIntent        = errors.New("invalid intent")
)

var failureKinds = []struct {
	err  error
	name string
}{
	{ErrUnknownSymbol, "UnknownSymbol"},
	{ErrFeedUnavailable, "FeedUnavailable"},
	{ErrInvalidSizing, "InvalidSizing"},
	{ErrDispatchFailed, "DispatchFailed"},
	{ErrConfigurationMissing, "ConfigurationMissing"},
	{ErrInvalidIntent, "InvalidIntent"},
}

// Fail builds an error of the given kind. A non-nil cause stays reachable through errors.Is/As.
func Fail(kind error, cause error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if cause == nil {
		return fmt.Errorf("%w: %s", kind, msg)
	}
	return fmt.Errorf("%w: %s: %w", kind, msg, cause)
}

// KindOf returns the failure kind name of err, or "Internal" when it has none
func KindOf(err error) string {
	for _, k := range failureKinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}
