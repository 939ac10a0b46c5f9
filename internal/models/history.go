package models

// TaskHistoryEntry is one persisted record of a background maintenance task
// (credential acquisition, refresh, etc). The payload is kept loose on
// purpose: the store only indexes by ID and creation time.
type TaskHistoryEntry struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	AccountID string         `json:"account_id,omitempty"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	CreatedAt float64        `json:"created_at"`
	Detail    map[string]any `json:"detail,omitempty"`
}
