package export

import (
	"archive/zip"
	"io"
	"time"

	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/exposafe/diagnosis-server/signing"
	"github.com/exposafe/diagnosis-server/store"
	"github.com/exposafe/diagnosis-server/wire"
)

// SerializeOutbreakEvents writes the signed zip bundle of outbreak locations
// for one retrieval window.
func SerializeOutbreakEvents(w io.Writer, signer signing.Signer, events []store.OutbreakEvent, start, end time.Time) error {
	locations := make([]*wire.OutbreakEvent, 0, len(events))
	for _, ev := range events {
		locations = append(locations, &wire.OutbreakEvent{
			LocationID: ev.LocationID,
			StartTime:  timestamppb.New(ev.StartTime),
			EndTime:    timestamppb.New(ev.EndTime),
			Severity:   ev.Severity,
		})
	}

	export := &wire.OutbreakEventExport{
		StartTimestamp: uint64(start.Unix()),
		EndTimestamp:   uint64(end.Unix()),
		Locations:      locations,
	}
	data := export.Marshal()

	sig, err := signer.Sign(data)
	if err != nil {
		return err
	}
	sigData := (&wire.OutbreakEventExportSignature{Signature: sig}).Marshal()

	zipw := zip.NewWriter(w)
	bin, err := zipw.Create("export.bin")
	if err != nil {
		return err
	}
	if _, err := bin.Write(data); err != nil {
		return err
	}
	sigFile, err := zipw.Create("export.sig")
	if err != nil {
		return err
	}
	if _, err := sigFile.Write(sigData); err != nil {
		return err
	}
	return zipw.Close()
}
