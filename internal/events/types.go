// Package events provides event management functionality.
package events

import (
	"encoding/json"
	"time"
)

// EventType represents different event types
type EventType string

const (
	TradeExecuted  EventType = "TRADE_EXECUTED"
	TradeRejected  EventType = "TRADE_REJECTED"
	CashUpdated    EventType = "CASH_UPDATED"
	IntegrityAlert EventType = "INTEGRITY_ALERT"
	BackupUploaded EventType = "BACKUP_UPLOADED"
	ErrorOccurred  EventType = "ERROR_OCCURRED"
)

// AllEventTypes lists every type the engine emits.
var AllEventTypes = []EventType{
	TradeExecuted,
	TradeRejected,
	CashUpdated,
	IntegrityAlert,
	BackupUploaded,
	ErrorOccurred,
}

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type" msgpack:"type"`
	Timestamp time.Time              `json:"timestamp" msgpack:"timestamp"`
	Data      map[string]interface{} `json:"data" msgpack:"data"`
	Module    string                 `json:"module" msgpack:"module"`
}

// GetTypedData converts the Data map back to the typed payload for the event's
// type. Returns nil for unknown types or undecodable data.
func (e *Event) GetTypedData() EventData {
	if e.Data == nil {
		return nil
	}

	var data EventData
	switch e.Type {
	case TradeExecuted:
		data = &TradeExecutedData{}
	case TradeRejected:
		data = &TradeRejectedData{}
	case CashUpdated:
		data = &CashUpdatedData{}
	case IntegrityAlert:
		data = &IntegrityAlertData{}
	case BackupUploaded:
		data = &BackupUploadedData{}
	case ErrorOccurred:
		data = &ErrorEventData{}
	default:
		return nil
	}

	if err := convertMapToStruct(e.Data, data); err != nil {
		return nil
	}
	return data
}

// convertMapToStruct converts a map[string]interface{} to a struct
func convertMapToStruct(m map[string]interface{}, v interface{}) error {
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonBytes, v)
}

// convertEventDataToMap converts typed EventData to map[string]interface{}
func convertEventDataToMap(data EventData) map[string]interface{} {
	if data == nil {
		return nil
	}

	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil
	}

	var result map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &result); err != nil {
		return nil
	}

	return result
}
