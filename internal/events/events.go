package events

import (
	"encoding/json"
	"time"
)

// Event types published by the engine. The UI listens on /events (SSE).
const (
	TypeLeadCreated          = "lead_created"
	TypeLeadMerged           = "lead_merged"
	TypeLeadUpdated          = "lead_updated"
	TypeSyncCompleted        = "sync_completed"
	TypePullCompleted        = "pull_completed"
	TypeMaintenanceCompleted = "maintenance_completed"
)

type Event struct {
	Type      string          `json:"type"`
	Version   int             `json:"v"`
	At        time.Time       `json:"at"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func MakeEvent(reqID, typ string, v int, data any) string {
	var raw json.RawMessage
	if data != nil {
		b, _ := json.Marshal(data)
		raw = b
	}
	e := Event{
		Type:      typ,
		Version:   v,
		At:        time.Now().UTC(),
		RequestID: reqID,
		Data:      raw,
	}
	b, _ := json.Marshal(e)
	return string(b)
}

func LeadCreated(reqID string, id int64, uuid string) string {
	return MakeEvent(reqID, TypeLeadCreated, 1, map[string]any{"id": id, "uuid": uuid})
}

func LeadMerged(reqID string, id int64, matchedOn string) string {
	return MakeEvent(reqID, TypeLeadMerged, 1, map[string]any{"id": id, "matched_on": matchedOn})
}

func LeadUpdated(reqID string, id int64) string {
	return MakeEvent(reqID, TypeLeadUpdated, 1, map[string]any{"id": id})
}

func SyncCompleted(reqID string, synced, failed int) string {
	return MakeEvent(reqID, TypeSyncCompleted, 1, map[string]any{"synced": synced, "failed": failed})
}

func PullCompleted(reqID string, created, updated int) string {
	return MakeEvent(reqID, TypePullCompleted, 1, map[string]any{"created": created, "updated": updated})
}

func MaintenanceCompleted(reqID string, backup string, removed int64) string {
	return MakeEvent(reqID, TypeMaintenanceCompleted, 1, map[string]any{"backup": backup, "duplicates_removed": removed})
}
