package wire

import (
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/types/known/durationpb"
)

// KeyClaimError enumerates the outcomes of a one-time-code claim.
type KeyClaimError int32

const (
	KeyClaimNone               KeyClaimError = 0
	KeyClaimUnknown            KeyClaimError = 1
	KeyClaimInvalidOneTimeCode KeyClaimError = 2
	KeyClaimServerError        KeyClaimError = 3
	KeyClaimInvalidKey         KeyClaimError = 4
	KeyClaimTemporaryBan       KeyClaimError = 5
)

// KeyClaimRequest binds a one-time code to the uploader's NaCl public key.
type KeyClaimRequest struct {
	OneTimeCode  string
	AppPublicKey []byte
}

func (m *KeyClaimRequest) Marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, m.OneTimeCode)
	b = appendBytesField(b, 2, m.AppPublicKey)
	return b
}

func (m *KeyClaimRequest) Unmarshal(b []byte) error {
	*m = KeyClaimRequest{}
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
			m.OneTimeCode = v
			b = b[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n, err := consumeBytes(b)
			if err != nil {
				return err
			}
			m.AppPublicKey = v
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

// KeyClaimResponse carries the server keypair half on success, or the error
// and ban bookkeeping on failure.
type KeyClaimResponse struct {
	Error                KeyClaimError
	ServerPublicKey      []byte
	TriesRemaining       uint32
	RemainingBanDuration *durationpb.Duration
}

func (m *KeyClaimResponse) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(m.Error))
	b = appendBytesField(b, 2, m.ServerPublicKey)
	b = appendVarintField(b, 3, uint64(m.TriesRemaining))
	if m.RemainingBanDuration != nil {
		b = appendDuration(b, 4, m.RemainingBanDuration)
	}
	return b
}

func (m *KeyClaimResponse) Unmarshal(b []byte) error {
	*m = KeyClaimResponse{}
	for len(b) > 0 {
		num, typ, n, err := consumeField(b)
		if err != nil {
			return err
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n, err := consumeVarint(b)
			if err != nil {
				return err
			}
			m.Error = KeyClaimError(v)
			b = b[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n, err := consumeBytes(b)
			if err != nil {
				return err
			}
			m.ServerPublicKey = v
			b = b[n:]
		case num == 3 && typ == protowire.VarintType:
			v, n, err := consumeVarint(b)
			if err != nil {
				return err
			}
			m.TriesRemaining = uint32(v)
			b = b[n:]
		case num == 4 && typ == protowire.BytesType:
			v, n, err := consumeBytes(b)
			if err != nil {
				return err
			}
			d, err := consumeDuration(v)
			if err != nil {
				return err
			}
			m.RemainingBanDuration = d
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
