package record

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrPayloadRequired is returned when a record is built without a payload.
	ErrPayloadRequired = errors.New("record payload is required")
	// ErrMissingID indicates a record without an identifier.
	ErrMissingID = errors.New("record id is required")
	// ErrMissingTimestamp indicates a record without a creation timestamp.
	ErrMissingTimestamp = errors.New("record timestamp is required")
)

// Record is one immutable enqueued message. The queue never inspects
// Payload and never reorders on Priority; both optional fields are
// carried metadata only.
type Record struct {
	ID          string
	CreatedAt   time.Time
	Payload     []byte
	MessageType string
	Priority    *int
}

// Option sets an optional field at construction time.
type Option func(*Record)

// WithMessageType tags the record with a classification.
func WithMessageType(messageType string) Option {
	return func(r *Record) { r.MessageType = messageType }
}

// WithPriority attaches a priority hint. Delivery stays strictly FIFO.
func WithPriority(priority int) Option {
	return func(r *Record) { p := priority; r.Priority = &p }
}

// New builds a record with a fresh unique id and the current UTC time
// at second resolution. An empty payload is a contract error.
func New(payload []byte, opts ...Option) (Record, error) {
	if len(payload) == 0 {
		return Record{}, ErrPayloadRequired
	}
	r := Record{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Payload:   append([]byte(nil), payload...),
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r, nil
}

// Validate checks the fields every stored record must carry.
func (r Record) Validate() error {
	if r.ID == "" {
		return ErrMissingID
	}
	if r.CreatedAt.IsZero() {
		return ErrMissingTimestamp
	}
	if len(r.Payload) == 0 {
		return ErrPayloadRequired
	}
	return nil
}

type jsonRecord struct {
	ID          string `json:"id"`
	Timestamp   string `json:"timestamp"`
	Payload     string `json:"payload"`
	MessageType string `json:"message_type,omitempty"`
	Priority    *int   `json:"priority,omitempty"`
}

// MarshalJSON emits the external shape. The optional keys are omitted,
// not null, when unset so downstream key-presence checks keep working.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonRecord{
		ID:          r.ID,
		Timestamp:   r.CreatedAt.UTC().Format(time.RFC3339),
		Payload:     string(r.Payload),
		MessageType: r.MessageType,
		Priority:    r.Priority,
	})
}

// UnmarshalJSON parses the external shape.
func (r *Record) UnmarshalJSON(data []byte) error {
	var in jsonRecord
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	createdAt := time.Time{}
	if in.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, in.Timestamp)
		if err != nil {
			return err
		}
		createdAt = parsed.UTC()
	}
	*r = Record{
		ID:          in.ID,
		CreatedAt:   createdAt,
		Payload:     []byte(in.Payload),
		MessageType: in.MessageType,
		Priority:    in.Priority,
	}
	return nil
}
