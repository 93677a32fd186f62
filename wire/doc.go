// Package wire defines the protobuf messages exchanged with mobile clients
// and retrieval consumers: key-claim requests and responses, encrypted upload
// envelopes, signed temporary-exposure-key exports in the Exposure
// Notification binary format, and the outbreak-event equivalents.
//
// The codecs are written directly against google.golang.org/protobuf's
// encoding/protowire so the export byte layout stays fully under our control;
// Duration and Timestamp fields use the well-known types from the protobuf
// runtime. Encoders emit fields in field-number order, which keeps serialized
// exports for a closed window byte-identical across requests.
package wire
