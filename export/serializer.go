package export

import (
	"archive/zip"
	"encoding/binary"
	"io"

	"github.com/exposafe/diagnosis-server/wire"
)

// exportBinHeader is the fixed 16-byte magic opening export.bin.
const exportBinHeader = "EK Export v1    "

// Serializer writes built export files to a response body.
type Serializer interface {
	ContentType() string
	Serialize(w io.Writer, files []*File) error
}

// DelimitedSerializer emits the legacy stream: each batch as a big-endian
// length-prefixed export followed by its length-prefixed signature list.
type DelimitedSerializer struct{}

func (DelimitedSerializer) ContentType() string {
	return "application/x-protobuf; delimited=true"
}

func (DelimitedSerializer) Serialize(w io.Writer, files []*File) error {
	for _, f := range files {
		if err := writeDelimited(w, f.Data); err != nil {
			return err
		}
		sigList := &wire.TEKSignatureList{Signatures: []*wire.TEKSignature{f.Signature}}
		if err := writeDelimited(w, sigList.Marshal()); err != nil {
			return err
		}
	}
	return nil
}

func writeDelimited(w io.Writer, data []byte) error {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	if _, err := w.Write(length[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// ZipSerializer emits the zip envelope the mobile frameworks consume:
// export.bin (16-byte magic plus the serialized export) and export.sig (the
// signature list). The zip protocol carries one export per archive, so the
// builder feeding it must be unbatched.
type ZipSerializer struct{}

func (ZipSerializer) ContentType() string {
	return "application/zip"
}

func (ZipSerializer) Serialize(w io.Writer, files []*File) error {
	zipw := zip.NewWriter(w)

	sigList := &wire.TEKSignatureList{}
	for _, f := range files {
		sigList.Signatures = append(sigList.Signatures, f.Signature)
	}

	bin, err := zipw.Create("export.bin")
	if err != nil {
		return err
	}
	if _, err := bin.Write([]byte(exportBinHeader)); err != nil {
		return err
	}
	for _, f := range files {
		if _, err := bin.Write(f.Data); err != nil {
			return err
		}
	}

	sig, err := zipw.Create("export.sig")
	if err != nil {
		return err
	}
	if _, err := sig.Write(sigList.Marshal()); err != nil {
		return err
	}

	return zipw.Close()
}
