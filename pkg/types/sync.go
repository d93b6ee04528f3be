package types

import "time"

// SyncCursor is the per-Edge, per-resource watermark the sync worker
// advances only through contiguously accepted versions.
type SyncCursor struct {
	EdgeID       string    `json:"edge_id"`
	ResourceName string    `json:"resource_name"`
	Version      uint64    `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SyncItem is one resource row staged for push to Cloud.
type SyncItem struct {
	Resource    string    `json:"resource"`
	ResourceID  string    `json:"resource_id"`
	Version     uint64    `json:"version"`
	PayloadJSON []byte    `json:"payload_json"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CloudSyncBatch is the body of an Edge->Cloud push.
type CloudSyncBatch struct {
	EdgeID         string               `json:"edge_id"`
	Items          []SyncItem           `json:"items"`
	CommandResults []CloudCommandResult `json:"command_results,omitempty"`
}

// SyncItemError reports why Cloud rejected one item in a batch.
type SyncItemError struct {
	Index      int    `json:"index"`
	ResourceID string `json:"resource_id"`
	Message    string `json:"message"`
}

// CloudCommandType is the closed set of commands Cloud can push back
// in a sync response; all are read-only/safe by construction.
type CloudCommandType string

const (
	CloudCmdGetStatus          CloudCommandType = "get_status"
	CloudCmdRefreshSubscription CloudCommandType = "refresh_subscription"
	CloudCmdGetOrderDetail     CloudCommandType = "get_order_detail"
)

// CloudCommand is a command Cloud wants this Edge to execute and
// report back on the next sync cycle.
type CloudCommand struct {
	CommandID string           `json:"command_id"`
	Type      CloudCommandType `json:"command_type"`
	Params    map[string]string `json:"params,omitempty"`
}

// CloudSyncResponse is Cloud's reply to a push.
type CloudSyncResponse struct {
	Accepted       []string        `json:"accepted"`
	Rejected       []string        `json:"rejected"`
	Errors         []SyncItemError `json:"errors,omitempty"`
	PendingCommands []CloudCommand `json:"pending_commands,omitempty"`
}

// CloudCommandResult is what the Edge reports back for a CloudCommand
// it executed (or failed to).
type CloudCommandResult struct {
	CommandID string `json:"command_id"`
	OK        bool   `json:"ok"`
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}
