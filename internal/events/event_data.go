package events

import "time"

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// TradeExecutedData contains data for TradeExecuted events.
// Decimal amounts are carried as strings.
type TradeExecutedData struct {
	TradeID      string    `json:"trade_id"`
	UserID       string    `json:"user_id"`
	InstrumentID string    `json:"instrument_id"`
	Side         string    `json:"side"`
	Quantity     int64     `json:"quantity"`
	Price        string    `json:"price"`
	Total        string    `json:"total"`
	ExecutedAt   time.Time `json:"executed_at"`
}

// EventType returns the event type for TradeExecutedData
func (d *TradeExecutedData) EventType() EventType {
	return TradeExecuted
}

// TradeRejectedData contains data for TradeRejected events
type TradeRejectedData struct {
	UserID       string `json:"user_id"`
	InstrumentID string `json:"instrument_id"`
	Side         string `json:"side"`
	Quantity     int64  `json:"quantity"`
	State        string `json:"state"`
	Kind         string `json:"kind"`
	Reason       string `json:"reason"`
}

// EventType returns the event type for TradeRejectedData
func (d *TradeRejectedData) EventType() EventType {
	return TradeRejected
}

// CashUpdatedData contains data for CashUpdated events
type CashUpdatedData struct {
	UserID  string `json:"user_id"`
	Kind    string `json:"kind"`
	Amount  string `json:"amount"`
	Balance string `json:"balance"`
}

// EventType returns the event type for CashUpdatedData
func (d *CashUpdatedData) EventType() EventType {
	return CashUpdated
}

// IntegrityAlertData contains data for IntegrityAlert events.
// Source is "executor" for failed compensation and "audit" for violations
// found by the integrity audit.
type IntegrityAlertData struct {
	Source       string `json:"source"`
	UserID       string `json:"user_id,omitempty"`
	InstrumentID string `json:"instrument_id,omitempty"`
	Step         string `json:"step,omitempty"`
	Error        string `json:"error"`
	Cause        string `json:"cause,omitempty"`
}

// EventType returns the event type for IntegrityAlertData
func (d *IntegrityAlertData) EventType() EventType {
	return IntegrityAlert
}

// BackupUploadedData contains data for BackupUploaded events
type BackupUploadedData struct {
	Key       string `json:"key"`
	Databases int    `json:"databases"`
	SizeBytes int64  `json:"size_bytes"`
}

// EventType returns the event type for BackupUploadedData
func (d *BackupUploadedData) EventType() EventType {
	return BackupUploaded
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}
