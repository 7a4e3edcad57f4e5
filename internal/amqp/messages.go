package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// DataChangedMessage announces that a local collection was persisted. The
// worker reloads state from the shared database, so the message carries no
// payload beyond the collection name.
type DataChangedMessage struct {
	Collection string    `json:"collection"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewDataChangedMessage creates a message stamped with the current time
func NewDataChangedMessage(collection string) *DataChangedMessage {
	return &DataChangedMessage{
		Collection: collection,
		Timestamp:  time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *DataChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// DataChangedMessageFromJSON creates a message from JSON bytes
func DataChangedMessageFromJSON(data []byte) (*DataChangedMessage, error) {
	var msg DataChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Collection == "" {
		return nil, fmt.Errorf("missing collection")
	}
	return &msg, nil
}
