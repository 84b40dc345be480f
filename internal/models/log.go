package models

import "time"

// ActionLog records every lifecycle action taken against a VPS, for
// operator diagnosis of failed provisioning and reinstall runs.
type ActionLog struct {
	ID        string                 `json:"id"`
	VPSID     string                 `json:"vps_id"`
	Action    string                 `json:"action"`
	Status    string                 `json:"status"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
