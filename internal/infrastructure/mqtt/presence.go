package mqtt

import (
	"encoding/json"
	"time"
)

// Presence states published on the system status topic.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// Reasons attached to an offline presence.
const (
	ReasonGracefulShutdown     = "graceful_shutdown"
	ReasonUnexpectedDisconnect = "unexpected_disconnect"
)

// Presence is the retained message bridges read to learn whether the
// conductor driving them is alive.
type Presence struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// presencePayload encodes a presence report stamped with now.
func presencePayload(status, clientID, reason string, now time.Time) []byte {
	data, err := json.Marshal(Presence{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		// Presence has only string fields.
		panic(err)
	}
	return data
}
