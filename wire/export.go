package wire

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// SignatureInfo identifies the verification key a consumer should use to
// check a batch signature.
type SignatureInfo struct {
	AppBundleID            string
	AndroidPackage         string
	VerificationKeyVersion string
	VerificationKeyID      string
	SignatureAlgorithm     string
}

func (m *SignatureInfo) Marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, m.AppBundleID)
	b = appendStringField(b, 2, m.AndroidPackage)
	b = appendStringField(b, 3, m.VerificationKeyVersion)
	b = appendStringField(b, 4, m.VerificationKeyID)
	b = appendStringField(b, 5, m.SignatureAlgorithm)
	return b
}

func (m *SignatureInfo) Unmarshal(b []byte) error {
	*m = SignatureInfo{}
	for len(b) > 0 {
		num, typ, n, err := consumeField(b)
		if err != nil {
			return err
		}
		b = b[n:]
		if typ != protowire.BytesType || num < 1 || num > 5 {
			n, err := skipField(b, num, typ)
			if err != nil {
				return err
			}
			b = b[n:]
			continue
		}
		v, n, err := consumeString(b)
		if err != nil {
			return err
		}
		b = b[n:]
		switch num {
		case 1:
			m.AppBundleID = v
		case 2:
			m.AndroidPackage = v
		case 3:
			m.VerificationKeyVersion = v
		case 4:
			m.VerificationKeyID = v
		case 5:
			m.SignatureAlgorithm = v
		}
	}
	return nil
}

// TemporaryExposureKeyExport is the signed batch format consumed by the
// mobile exposure-notification frameworks.
type TemporaryExposureKeyExport struct {
	StartTimestamp uint64
	EndTimestamp   uint64
	Region         string
	BatchNum       int32
	BatchSize      int32
	SignatureInfos []*SignatureInfo
	Keys           []*TemporaryExposureKey
}

func (m *TemporaryExposureKeyExport) Marshal() []byte {
	var b []byte
	b = appendFixed64Field(b, 1, m.StartTimestamp)
	b = appendFixed64Field(b, 2, m.EndTimestamp)
	b = appendStringField(b, 3, m.Region)
	b = appendInt32Field(b, 4, m.BatchNum)
	b = appendInt32Field(b, 5, m.BatchSize)
	for _, si := range m.SignatureInfos {
		b = appendBytesField(b, 6, si.Marshal())
	}
	for _, k := range m.Keys {
		b = appendBytesField(b, 7, k.Marshal())
	}
	return b
}

func (m *TemporaryExposureKeyExport) Unmarshal(b []byte) error {
	*m = TemporaryExposureKeyExport{}
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
			v, n, err := consumeString(b)
			if err != nil {
				return err
			}
			m.Region = v
			b = b[n:]
		case (num == 4 || num == 5) && typ == protowire.VarintType:
			v, n, err := consumeVarint(b)
			if err != nil {
				return err
			}
			if num == 4 {
				m.BatchNum = int32(v)
			} else {
				m.BatchSize = int32(v)
			}
			b = b[n:]
		case num == 6 && typ == protowire.BytesType:
			v, n, err := consumeBytes(b)
			if err != nil {
				return err
			}
			var si SignatureInfo
			if err := si.Unmarshal(v); err != nil {
				return err
			}
			m.SignatureInfos = append(m.SignatureInfos, &si)
			b = b[n:]
		case num == 7 && typ == protowire.BytesType:
			v, n, err := consumeBytes(b)
			if err != nil {
				return err
			}
			var k TemporaryExposureKey
			if err := k.Unmarshal(v); err != nil {
				return err
			}
			m.Keys = append(m.Keys, &k)
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

// TEKSignature is one detached batch signature.
type TEKSignature struct {
	SignatureInfo *SignatureInfo
	BatchNum      int32
	BatchSize     int32
	Signature     []byte
}

func (m *TEKSignature) Marshal() []byte {
	var b []byte
	if m.SignatureInfo != nil {
		b = appendBytesField(b, 1, m.SignatureInfo.Marshal())
	}
	b = appendInt32Field(b, 2, m.BatchNum)
	b = appendInt32Field(b, 3, m.BatchSize)
	b = appendBytesField(b, 4, m.Signature)
	return b
}

func (m *TEKSignature) Unmarshal(b []byte) error {
	*m = TEKSignature{}
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
			var si SignatureInfo
			if err := si.Unmarshal(v); err != nil {
				return err
			}
			m.SignatureInfo = &si
			b = b[n:]
		case (num == 2 || num == 3) && typ == protowire.VarintType:
			v, n, err := consumeVarint(b)
			if err != nil {
				return err
			}
			if num == 2 {
				m.BatchNum = int32(v)
			} else {
				m.BatchSize = int32(v)
			}
			b = b[n:]
		case num == 4 && typ == protowire.BytesType:
			v, n, err := consumeBytes(b)
			if err != nil {
				return err
			}
			m.Signature = v
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

// TEKSignatureList is the export.sig payload.
type TEKSignatureList struct {
	Signatures []*TEKSignature
}

func (m *TEKSignatureList) Marshal() []byte {
	var b []byte
	for _, s := range m.Signatures {
		b = appendBytesField(b, 1, s.Marshal())
	}
	return b
}

func (m *TEKSignatureList) Unmarshal(b []byte) error {
	*m = TEKSignatureList{}
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
			var s TEKSignature
			if err := s.Unmarshal(v); err != nil {
				return err
			}
			m.Signatures = append(m.Signatures, &s)
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
