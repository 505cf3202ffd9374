package domain

const (
	RecordCreated = "record-created"
	RecordUpdated = "record-updated"
	RecordDeleted = "record-deleted"
)

// Event describes a single change applied to a collection. It is published to
// live subscribers and, when configured, to the change queue.
type Event struct {
	ID         string `json:"id"`
	Collection string `json:"collection"`
	RecordID   string `json:"recordId"`
	Type       string `json:"type"`
	Time       int64  `json:"time"`
}
