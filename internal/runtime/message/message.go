// Package message wraps Watermill messages with a typed success-callback
// slot that survives duplication.
package message

import (
	"fmt"
	"sync"

	wm "github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/interflow/internal/runtime/errors"
	"github.com/drblury/interflow/internal/runtime/ids"
	"github.com/drblury/interflow/internal/runtime/metadata"
)

// Callback runs once after a message has been produced successfully.
type Callback func(*Message)

// callbackSlot is shared by a message and all of its clones. It never
// travels over the wire.
type callbackSlot struct {
	mu   sync.Mutex
	fn   Callback
	once sync.Once
}

// Message is a Watermill message plus its callback slot. The embedded
// message carries identity, payload, metadata and ack state.
type Message struct {
	*wm.Message
	slot *callbackSlot
}

// New builds a message with a fresh ULID identity.
func New(payload []byte, md metadata.Metadata) *Message {
	return NewWithID(ids.CreateULID(), payload, md)
}

// NewWithID builds a message with the given identity.
func NewWithID(id string, payload []byte, md metadata.Metadata) *Message {
	msg := wm.NewMessage(id, payload)
	msg.Metadata = metadata.ToWatermill(md)
	return Wrap(msg)
}

// Wrap attaches an empty callback slot to a Watermill message received from
// a transport. It returns nil for a nil message.
func Wrap(msg *wm.Message) *Message {
	if msg == nil {
		return nil
	}
	return &Message{Message: msg, slot: &callbackSlot{}}
}

var protoJSONMarshalOptions = protojson.MarshalOptions{EmitUnpopulated: true}

// FromProto encodes event as protojson and records its Go type under the
// event schema metadata key.
func FromProto(event proto.Message, md metadata.Metadata) (*Message, error) {
	if event == nil {
		return nil, errspkg.ErrPayloadRequired
	}

	payload, err := protoJSONMarshalOptions.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	return New(payload, md.With(metadata.KeyEventSchema, fmt.Sprintf("%T", event))), nil
}

// ID returns the message identity.
func (m *Message) ID() string {
	return m.UUID
}

// Clone duplicates payload and metadata and keeps the context. The clone
// shares the callback slot, so a callback prepared on either copy fires at
// most once across all of them.
func (m *Message) Clone() *Message {
	dup := m.Message.Copy()
	dup.Payload = append(wm.Payload(nil), m.Payload...)
	dup.SetContext(m.Context())
	return &Message{Message: dup, slot: m.slot}
}

// Prepare attaches onSuccess to msg, replacing any earlier callback.
func Prepare(msg *Message, onSuccess Callback) {
	if msg == nil {
		return
	}
	msg.slot.mu.Lock()
	defer msg.slot.mu.Unlock()
	msg.slot.fn = onSuccess
}

// HandleSuccessCallback runs the prepared callback with msg. Only the first
// call across a message and its clones has any effect; without a callback
// it does nothing.
func HandleSuccessCallback(msg *Message) {
	if msg == nil {
		return
	}
	msg.slot.once.Do(func() {
		msg.slot.mu.Lock()
		fn := msg.slot.fn
		msg.slot.mu.Unlock()
		if fn != nil {
			fn(msg)
		}
	})
}
