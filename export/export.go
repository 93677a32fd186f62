// Package export turns stored diagnosis keys into the signed batch formats
// clients download: the zip envelope consumed by the mobile
// exposure-notification frameworks and the legacy length-delimited stream.
package export

import (
	"time"

	"github.com/exposafe/diagnosis-server/signing"
	"github.com/exposafe/diagnosis-server/store"
	"github.com/exposafe/diagnosis-server/wire"
)

// MaxBatchBytes caps the serialized key material per batch in the legacy
// stream.
const MaxBatchBytes = 500 * 1024

// File is one signed export batch.
type File struct {
	Data      []byte
	Signature *wire.TEKSignature
}

// Builder groups keys into signed batches. A maxBatchBytes of zero disables
// batching and produces a single file.
type Builder struct {
	signer        signing.Signer
	maxBatchBytes int
}

func NewBuilder(signer signing.Signer, maxBatchBytes int) *Builder {
	return &Builder{signer: signer, maxBatchBytes: maxBatchBytes}
}

func signatureInfo() *wire.SignatureInfo {
	return &wire.SignatureInfo{
		AppBundleID:            signing.AppBundleID,
		AndroidPackage:         signing.AndroidPackage,
		VerificationKeyVersion: signing.VerificationKeyVersion,
		VerificationKeyID:      signing.VerificationKeyID,
		SignatureAlgorithm:     signing.SignatureAlgorithm,
	}
}

// Build serializes and signs the keys for one retrieval window.
func (b *Builder) Build(region string, keys []store.DiagnosisKey, start, end time.Time) ([]*File, error) {
	batches := b.batch(keys)
	batchSize := int32(len(batches))

	files := make([]*File, 0, len(batches))
	for i, batch := range batches {
		batchNum := int32(i + 1)
		export := &wire.TemporaryExposureKeyExport{
			StartTimestamp: uint64(start.Unix()),
			EndTimestamp:   uint64(end.Unix()),
			Region:         region,
			BatchNum:       batchNum,
			BatchSize:      batchSize,
			SignatureInfos: []*wire.SignatureInfo{signatureInfo()},
			Keys:           batch,
		}
		data := export.Marshal()

		sig, err := b.signer.Sign(data)
		if err != nil {
			return nil, err
		}

		files = append(files, &File{
			Data: data,
			Signature: &wire.TEKSignature{
				SignatureInfo: signatureInfo(),
				BatchNum:      batchNum,
				BatchSize:     batchSize,
				Signature:     sig,
			},
		})
	}
	return files, nil
}

func (b *Builder) batch(keys []store.DiagnosisKey) [][]*wire.TemporaryExposureKey {
	var batches [][]*wire.TemporaryExposureKey
	var current []*wire.TemporaryExposureKey
	currentBytes := 0

	for _, key := range keys {
		tek := &wire.TemporaryExposureKey{
			KeyData:                    key.KeyData,
			TransmissionRiskLevel:      key.TransmissionRiskLevel,
			RollingStartIntervalNumber: key.RollingStartIntervalNumber,
			RollingPeriod:              key.RollingPeriod,
		}
		size := len(tek.Marshal())
		if b.maxBatchBytes > 0 && currentBytes+size > b.maxBatchBytes && len(current) > 0 {
			batches = append(batches, current)
			current = nil
			currentBytes = 0
		}
		current = append(current, tek)
		currentBytes += size
	}
	batches = append(batches, current)
	return batches
}
