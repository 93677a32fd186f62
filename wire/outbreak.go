package wire

import (
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// OutbreakEventError enumerates the outcomes of an outbreak event submission.
type OutbreakEventError int32

const (
	OutbreakNone             OutbreakEventError = 0
	OutbreakUnknown          OutbreakEventError = 1
	OutbreakInvalidID        OutbreakEventError = 2
	OutbreakMissingTimestamp OutbreakEventError = 3
	OutbreakPeriodInvalid    OutbreakEventError = 4
	OutbreakServerError      OutbreakEventError = 5
)

// OutbreakEvent marks a venue as an exposure site for a time window.
type OutbreakEvent struct {
	LocationID string
	StartTime  *timestamppb.Timestamp
	EndTime    *timestamppb.Timestamp
	Severity   uint32
}

func (m *OutbreakEvent) Marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, m.LocationID)
	if m.StartTime != nil {
		b = appendTimestamp(b, 2, m.StartTime)
	}
	if m.EndTime != nil {
		b = appendTimestamp(b, 3, m.EndTime)
	}
	b = appendVarintField(b, 4, uint64(m.Severity))
	return b
}

func (m *OutbreakEvent) Unmarshal(b []byte) error {
	*m = OutbreakEvent{}
	for len(b) > 0 {
		num, typ, n, err := consumeField(b)
		if err != nil {
			return err
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n, err := consumeString(b)
			if err != nil {
				return err
			}
			m.LocationID = v
			b = b[n:]
		case (num == 2 || num == 3) && typ == protowire.BytesType:
			v, n, err := consumeBytes(b)
			if err != nil {
				return err
			}
			ts, err := consumeTimestamp(v)
			if err != nil {
				return err
			}
			if num == 2 {
				m.StartTime = ts
			} else {
				m.EndTime = ts
			}
			b = b[n:]
		case num == 4 && typ == protowire.VarintType:
			v, n, err := consumeVarint(b)
			if err != nil {
				return err
			}
			m.Severity = uint32(v)
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

// OutbreakEventResponse reports the submission outcome.
type OutbreakEventResponse struct {
	Error OutbreakEventError
}

func (m *OutbreakEventResponse) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(m.Error))
	return b
}

func (m *OutbreakEventResponse) Unmarshal(b []byte) error {
	*m = OutbreakEventResponse{}
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
			m.Error = OutbreakEventError(v)
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

// OutbreakEventExport is the signed bundle of outbreak locations for a
// retrieval period.
type OutbreakEventExport struct {
	StartTimestamp uint64
	EndTimestamp   uint64
	Locations      []*OutbreakEvent
}

func (m *OutbreakEventExport) Marshal() []byte {
	var b []byte
	b = appendFixed64Field(b, 1, m.StartTimestamp)
	b = appendFixed64Field(b, 2, m.EndTimestamp)
	for _, loc := range m.Locations {
		b = appendBytesField(b, 3, loc.Marshal())
	}
	return b
}

func (m *OutbreakEventExport) Unmarshal(b []byte) error {
	*m = OutbreakEventExport{}
	for len(b) > 0 {
		num, typ, n, err := consumeField(b)
		if err != nil {
			return err
		}
		b = b[n:]
		switch {
		case (num == 1 || num == 2) && typ == protowire.Fixed64Type:
			v, n, err := consumeFixed64(b)
			if err != nil {
				return err
			}
			if num == 1 {
				m.StartTimestamp = v
			} else {
				m.EndTimestamp = v
			}
			b = b[n:]
		case num == 3 && typ == protowire.BytesType:
			v, n, err := consumeBytes(b)
			if err != nil {
				return err
			}
			var loc OutbreakEvent
			if err := loc.Unmarshal(v); err != nil {
				return err
			}
			m.Locations = append(m.Locations, &loc)
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

// OutbreakEventExportSignature is the detached signature over an
// OutbreakEventExport.
type OutbreakEventExportSignature struct {
	Signature []byte
}

func (m *OutbreakEventExportSignature) Marshal() []byte {
	var b []byte
	b = appendBytesField(b, 1, m.Signature)
	return b
}

func (m *OutbreakEventExportSignature) Unmarshal(b []byte) error {
	*m = OutbreakEventExportSignature{}
	for len(b) > 0 {
		num, typ, n, err := consumeField(b)
		if err != nil {
			return err
		}
		b = b[n:]
		if num == 1 && typ == protowire.BytesType {
			v, n, err := consumeBytes(b)
			if err != nil {
				return err
			}
			m.Signature = v
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
