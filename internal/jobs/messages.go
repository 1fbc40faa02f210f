package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"fintrack/internal/core"
)

// KindProcessRecurring tags work items for the recurring processor.
const KindProcessRecurring = "process-recurring"

// RecurringMessage is the wire form of one work item. It carries only the
// identifiers; the consumer reloads the template from the ledger.
type RecurringMessage struct {
	Kind          string    `json:"kind"`
	TransactionID string    `json:"transactionId"`
	UserID        string    `json:"userId"`
	Attempt       int       `json:"attempt"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewRecurringMessage creates a first-attempt message for a work item
func NewRecurringMessage(item core.WorkItem) *RecurringMessage {
	return &RecurringMessage{
		Kind:          KindProcessRecurring,
		TransactionID: item.TransactionID,
		UserID:        item.UserID,
		Timestamp:     time.Now(),
	}
}

func (m *RecurringMessage) WorkItem() core.WorkItem {
	return core.WorkItem{TransactionID: m.TransactionID, UserID: m.UserID}
}

// Validate rejects messages of another kind or with missing identifiers.
func (m *RecurringMessage) Validate() error {
	if m.Kind != KindProcessRecurring {
		return fmt.Errorf("%w: unexpected message kind %q", core.ErrInvalidInput, m.Kind)
	}
	return m.WorkItem().Validate()
}

// ToJSON converts the message to JSON bytes
func (m *RecurringMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RecurringMessageFromJSON decodes a message. Decoding errors wrap
// core.ErrInvalidInput so consumers drop the payload instead of retrying it.
func RecurringMessageFromJSON(data []byte) (*RecurringMessage, error) {
	var msg RecurringMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
	}
	return &msg, nil
}
