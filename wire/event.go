package wire

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// EventError enumerates the outcomes of a device event report.
type EventError int32

const (
	EventNone        EventError = 0
	EventUnknown     EventError = 1
	EventInvalidKeys EventError = 2
	EventServerError EventError = 3
)

// EventRequest reports a named device-side event, tied to a claimed keypair.
type EventRequest struct {
	ServerPublicKey []byte
	AppPublicKey    []byte
	Event           string
}

func (m *EventRequest) Marshal() []byte {
	var b []byte
	b = appendBytesField(b, 1, m.ServerPublicKey)
	b = appendBytesField(b, 2, m.AppPublicKey)
	b = appendStringField(b, 3, m.Event)
	return b
}

func (m *EventRequest) Unmarshal(b []byte) error {
	*m = EventRequest{}
	for len(b) > 0 {
		num, typ, n, err := consumeField(b)
		if err != nil {
			return err
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n, err := consumeBytes(b)
			if err != nil {
				return err
			}
			m.ServerPublicKey = v
			b = b[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n, err := consumeBytes(b)
			if err != nil {
				return err
			}
			m.AppPublicKey = v
			b = b[n:]
		case num == 3 && typ == protowire.BytesType:
			v, n, err := consumeString(b)
			if err != nil {
				return err
			}
			m.Event = v
			b = b[n:]
		default:
			n, err := skipField(b, num, typ)
			if err != nil {
				return err
			}
			b = b[n:]
		}
	}
	return nil
}

// EventResponse reports the event submission outcome.
type EventResponse struct {
	Error EventError
}

func (m *EventResponse) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(m.Error))
	return b
}

func (m *EventResponse) Unmarshal(b []byte) error {
	*m = EventResponse{}
	for len(b) > 0 {
		num, typ, n, err := consumeField(b)
		if err != nil {
			return err
		}
		b = b[n:]
		if num == 1 && typ == protowire.VarintType {
			v, n, err := consumeVarint(b)
			if err != nil {
				return err
			}
			m.Error = EventError(v)
			b = b[n:]
			continue
		}
		n, err = skipField(b, num, typ)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}
