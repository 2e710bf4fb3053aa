package model

import "time"

// TransferStatus tracks an outbound batch transfer attempt sequence.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferSending   TransferStatus = "transferring"
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
)

// TransferLog is an append-only record of one batch transfer. Attempts counts
// integrity-checked send attempts; the gateway never exceeds three.
type TransferLog struct {
	ID             string         `json:"id"`
	Filename       string         `json:"filename"`
	FileSize       int64          `json:"file_size"`
	ChecksumSHA256 string         `json:"checksum_sha256"`
	Direction      string         `json:"direction"`
	Status         TransferStatus `json:"status"`
	Attempts       int            `json:"attempts"`
	Error          string         `json:"error,omitempty"`
	TransferredAt  *time.Time     `json:"transferred_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// AuditLog is an append-only record of a state transition. Never mutated
// after creation.
type AuditLog struct {
	ID         string    `json:"id"`
	EventType  string    `json:"event_type"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id,omitempty"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	Details    string    `json:"details,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
