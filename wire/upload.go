package wire

import (
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// EncryptedUploadError enumerates the outcomes of an encrypted key upload.
type EncryptedUploadError int32

const (
	UploadNone                              EncryptedUploadError = 0
	UploadUnknown                           EncryptedUploadError = 1
	UploadInvalidPayload                    EncryptedUploadError = 2
	UploadServerError                       EncryptedUploadError = 3
	UploadInvalidCryptoParameters           EncryptedUploadError = 4
	UploadDecryptionFailed                  EncryptedUploadError = 5
	UploadInvalidRollingPeriod              EncryptedUploadError = 6
	UploadInvalidKeyData                    EncryptedUploadError = 7
	UploadInvalidRollingStartIntervalNumber EncryptedUploadError = 8
	UploadInvalidTransmissionRiskLevel      EncryptedUploadError = 9
	UploadNoKeysInPayload                   EncryptedUploadError = 10
	UploadTooManyKeys                       EncryptedUploadError = 11
	UploadInvalidTimestamp                  EncryptedUploadError = 12
	UploadInvalidKeypair                    EncryptedUploadError = 13
)

// EncryptedUploadRequest wraps a box-sealed Upload payload with the keypair
// halves and nonce needed to open it.
type EncryptedUploadRequest struct {
	ServerPublicKey []byte
	AppPublicKey    []byte
	Nonce           []byte
	Payload         []byte
}

func (m *EncryptedUploadRequest) Marshal() []byte {
	var b []byte
	b = appendBytesField(b, 1, m.ServerPublicKey)
	b = appendBytesField(b, 2, m.AppPublicKey)
	b = appendBytesField(b, 3, m.Nonce)
	b = appendBytesField(b, 4, m.Payload)
	return b
}

func (m *EncryptedUploadRequest) Unmarshal(b []byte) error {
	*m = EncryptedUploadRequest{}
	for len(b) > 0 {
		num, typ, n, err := consumeField(b)
		if err != nil {
			return err
		}
		b = b[n:]
		if typ != protowire.BytesType || num < 1 || num > 4 {
			n, err := skipField(b, num, typ)
			if err != nil {
				return err
			}
			b = b[n:]
			continue
		}
		v, n, err := consumeBytes(b)
		if err != nil {
			return err
		}
		b = b[n:]
		switch num {
		case 1:
			m.ServerPublicKey = v
		case 2:
			m.AppPublicKey = v
		case 3:
			m.Nonce = v
		case 4:
			m.Payload = v
		}
	}
	return nil
}

// EncryptedUploadResponse reports the upload outcome.
type EncryptedUploadResponse struct {
	Error EncryptedUploadError
}

func (m *EncryptedUploadResponse) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(m.Error))
	return b
}

func (m *EncryptedUploadResponse) Unmarshal(b []byte) error {
	*m = EncryptedUploadResponse{}
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
			m.Error = EncryptedUploadError(v)
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

// TemporaryExposureKey is one rolling diagnosis key as broadcast over BLE.
type TemporaryExposureKey struct {
	KeyData                    []byte
	TransmissionRiskLevel      int32
	RollingStartIntervalNumber int32
	RollingPeriod              int32
}

func (m *TemporaryExposureKey) Marshal() []byte {
	var b []byte
	b = appendBytesField(b, 1, m.KeyData)
	b = appendInt32Field(b, 2, m.TransmissionRiskLevel)
	b = appendInt32Field(b, 3, m.RollingStartIntervalNumber)
	b = appendInt32Field(b, 4, m.RollingPeriod)
	return b
}

func (m *TemporaryExposureKey) Unmarshal(b []byte) error {
	*m = TemporaryExposureKey{}
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
			m.KeyData = v
			b = b[n:]
		case num >= 2 && num <= 4 && typ == protowire.VarintType:
			v, n, err := consumeVarint(b)
			if err != nil {
				return err
			}
			switch num {
			case 2:
				m.TransmissionRiskLevel = int32(v)
			case 3:
				m.RollingStartIntervalNumber = int32(v)
			case 4:
				m.RollingPeriod = int32(v)
			}
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

// Upload is the decrypted payload: a client timestamp plus the keys being
// reported.
type Upload struct {
	Timestamp *timestamppb.Timestamp
	Keys      []*TemporaryExposureKey
}

func (m *Upload) Marshal() []byte {
	var b []byte
	if m.Timestamp != nil {
		b = appendTimestamp(b, 1, m.Timestamp)
	}
	for _, k := range m.Keys {
		b = appendBytesField(b, 2, k.Marshal())
	}
	return b
}

func (m *Upload) Unmarshal(b []byte) error {
	*m = Upload{}
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
			ts, err := consumeTimestamp(v)
			if err != nil {
				return err
			}
			m.Timestamp = ts
			b = b[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n, err := consumeBytes(b)
			if err != nil {
				return err
			}
			var key TemporaryExposureKey
			if err := key.Unmarshal(v); err != nil {
				return err
			}
			m.Keys = append(m.Keys, &key)
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
