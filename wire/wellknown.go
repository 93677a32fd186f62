package wire

import (
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// google.protobuf.Duration and google.protobuf.Timestamp share the same wire
// shape: int64 seconds (field 1) and int32 nanos (field 2).

func appendDuration(b []byte, num protowire.Number, d *durationpb.Duration) []byte {
	var inner []byte
	if d.GetSeconds() != 0 {
		inner = appendVarintField(inner, 1, uint64(d.GetSeconds()))
	}
	if d.GetNanos() != 0 {
		inner = appendInt32Field(inner, 2, d.GetNanos())
	}
	return appendBytesField(b, num, inner)
}

func consumeDuration(b []byte) (*durationpb.Duration, error) {
	secs, nanos, err := consumeSecondsNanos(b)
	if err != nil {
		return nil, err
	}
	return &durationpb.Duration{Seconds: secs, Nanos: nanos}, nil
}

func appendTimestamp(b []byte, num protowire.Number, ts *timestamppb.Timestamp) []byte {
	var inner []byte
	if ts.GetSeconds() != 0 {
		inner = appendVarintField(inner, 1, uint64(ts.GetSeconds()))
	}
	if ts.GetNanos() != 0 {
		inner = appendInt32Field(inner, 2, ts.GetNanos())
	}
	return appendBytesField(b, num, inner)
}

func consumeTimestamp(b []byte) (*timestamppb.Timestamp, error) {
	secs, nanos, err := consumeSecondsNanos(b)
	if err != nil {
		return nil, err
	}
	return &timestamppb.Timestamp{Seconds: secs, Nanos: nanos}, nil
}

func consumeSecondsNanos(b []byte) (int64, int32, error) {
	var secs int64
	var nanos int32
	for len(b) > 0 {
		num, typ, n, err := consumeField(b)
		if err != nil {
			return 0, 0, err
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n, err := consumeVarint(b)
			if err != nil {
				return 0, 0, err
			}
			secs = int64(v)
			b = b[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n, err := consumeVarint(b)
			if err != nil {
				return 0, 0, err
			}
			nanos = int32(v)
			b = b[n:]
		default:
			n, err := skipField(b, num, typ)
			if err != nil {
				return 0, 0, err
			}
			b = b[n:]
		}
	}
	return secs, nanos, nil
}
