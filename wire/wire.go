package wire

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// NonceLength is the length of a NaCl box nonce.
	NonceLength = 24
	// KeyLength is the length of a NaCl box public or private key.
	KeyLength = 32
	// KeyDataLength is the length of a temporary exposure key's key material.
	KeyDataLength = 16
)

var (
	ErrMalformedMessage = errors.New("wire: malformed message")
	ErrWrongKeyLength   = errors.New("wire: key must be 32 bytes")
	ErrWrongNonceLength = errors.New("wire: nonce must be 24 bytes")
)

// IntoKey copies a slice into a fixed-size NaCl key array, rejecting any
// other length.
func IntoKey(b []byte) (*[KeyLength]byte, error) {
	if len(b) != KeyLength {
		return nil, ErrWrongKeyLength
	}
	var arr [KeyLength]byte
	copy(arr[:], b)
	return &arr, nil
}

// IntoNonce copies a slice into a fixed-size NaCl nonce array, rejecting any
// other length.
func IntoNonce(b []byte) (*[NonceLength]byte, error) {
	if len(b) != NonceLength {
		return nil, ErrWrongNonceLength
	}
	var arr [NonceLength]byte
	copy(arr[:], b)
	return &arr, nil
}

// consumeField reads the next tag and returns the field number, type, and the
// number of bytes consumed by the tag.
func consumeField(b []byte) (protowire.Number, protowire.Type, int, error) {
	num, typ, n := protowire.ConsumeTag(b)
	if n < 0 {
		return 0, 0, 0, ErrMalformedMessage
	}
	return num, typ, n, nil
}

// skipField discards a field value of the given type, returning the bytes
// consumed. Unknown fields are tolerated on decode the way generated code
// tolerates them.
func skipField(b []byte, num protowire.Number, typ protowire.Type) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, ErrMalformedMessage
	}
	return n, nil
}

func consumeBytes(b []byte) ([]byte, int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, ErrMalformedMessage
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, n, nil
}

func consumeString(b []byte) (string, int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return "", 0, ErrMalformedMessage
	}
	return string(v), n, nil
}

func consumeVarint(b []byte) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, ErrMalformedMessage
	}
	return v, n, nil
}

func consumeFixed64(b []byte) (uint64, int, error) {
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, 0, ErrMalformedMessage
	}
	return v, n, nil
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendInt32Field(b []byte, num protowire.Number, v int32) []byte {
	// int32 varints are sign-extended to ten bytes, never truncated
	return appendVarintField(b, num, uint64(int64(v)))
}

func appendFixed64Field(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, v)
}
