// Package events provides event management functionality.
package events

import "time"

// EventType represents different event types
type EventType string

const (
	IntentDispatched   EventType = "INTENT_DISPATCHED"
	IntentFailed       EventType = "INTENT_FAILED"
	ScanCompleted      EventType = "SCAN_COMPLETED"
	ScanFailed         EventType = "SCAN_FAILED"
	DispatchUnitQueued EventType = "DISPATCH_UNIT_QUEUED"
	LedgerArchived     EventType = "LEDGER_ARCHIVED"
	ErrorOccurred      EventType = "ERROR_OCCURRED"
)

// AllEventTypes lists every event type, in emission-independent order
var AllEventTypes = []EventType{
	IntentDispatched,
	IntentFailed,
	ScanCompleted,
	ScanFailed,
	DispatchUnitQueued,
	LedgerArchived,
	ErrorOccurred,
}

// Event represents a system event
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Type      EventType              `json:"type"`
	Module    string                 `json:"module"`
}
