package events

// EventData is the interface that all event data types must implement
type EventData interface {
	EventType() EventType
}

// IntentDispatchedData contains data for IntentDispatched events
type IntentDispatchedData struct {
	CorrelationID string  `json:"correlation_id"`
	TenantID      string  `json:"tenant_id"`
	Symbol        string  `json:"symbol"`
	Direction     string  `json:"direction"`
	Quantity      float64 `json:"quantity"`
	Price         float64 `json:"price"`
	Handle        string  `json:"handle"`
	Placeholder   bool    `json:"placeholder"`
}

// EventType returns the event type for IntentDispatchedData
func (d *IntentDispatchedData) EventType() EventType {
	return IntentDispatched
}

// IntentFailedData contains data for IntentFailed events
type IntentFailedData struct {
	CorrelationID string `json:"correlation_id"`
	TenantID      string `json:"tenant_id"`
	Symbol        string `json:"symbol"`
	Stage         string `json:"stage"`
	Kind          string `json:"kind"`
	Error         string `json:"error"`
}

// EventType returns the event type for IntentFailedData
func (d *IntentFailedData) EventType() EventType {
	return IntentFailed
}

// ScanCompletedData contains data for ScanCompleted events
type ScanCompletedData struct {
	CycleID    string   `json:"cycle_id"`
	Symbols    []string `json:"symbols"`
	Accepted   int      `json:"accepted"`
	Rejected   int      `json:"rejected"`
	Selected   []string `json:"selected"`
	BestSymbol string   `json:"best_symbol,omitempty"`
	Units      int      `json:"units"`
	DurationMs int64    `json:"duration_ms"`
}

// EventType returns the event type for ScanCompletedData
func (d *ScanCompletedData) EventType() EventType {
	return ScanCompleted
}

// ScanFailedData contains data for ScanFailed events
type ScanFailedData struct {
	CycleID string `json:"cycle_id"`
	Kind    string `json:"kind"`
	Error   string `json:"error"`
}

// EventType returns the event type for ScanFailedData
func (d *ScanFailedData) EventType() EventType {
	return ScanFailed
}

// DispatchUnitQueuedData contains data for DispatchUnitQueued events
type DispatchUnitQueuedData struct {
	UnitID   string `json:"unit_id"`
	CycleID  string `json:"cycle_id"`
	TenantID string `json:"tenant_id"`
	Symbol   string `json:"symbol"`
}

// EventType returns the event type for DispatchUnitQueuedData
func (d *DispatchUnitQueuedData) EventType() EventType {
	return DispatchUnitQueued
}

// LedgerArchivedData contains data for LedgerArchived events
type LedgerArchivedData struct {
	Key     string `json:"key"`
	Records int    `json:"records"`
	Bytes   int    `json:"bytes"`
}

// EventType returns the event type for LedgerArchivedData
func (d *LedgerArchivedData) EventType() EventType {
	return LedgerArchived
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Context map[string]interface{} `json:"context,omitempty"`
	Error   string                 `json:"error"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}
