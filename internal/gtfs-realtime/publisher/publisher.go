package publisher

import (
	"fmt"
	"os"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
)

// Writer serializes feed snapshots to a single output path. Writes are
// staged through a temp file and renamed into place so a reader never
// observes a partially written snapshot.
type Writer struct {
	path     string
	readable bool
}

// New returns a writer for path. With readable set the snapshot is
// written in protobuf text format for eyeballing instead of the
// binary wire format.
func New(path string, readable bool) *Writer {
	return &Writer{path: path, readable: readable}
}

func (w *Writer) Path() string { return w.path }

// Publish marshals the message and atomically replaces the output
// file.
func (w *Writer) Publish(msg *gtfsrt.FeedMessage) error {
	var data []byte
	var err error
	if w.readable {
		data, err = prototext.MarshalOptions{Multiline: true}.Marshal(msg)
	} else {
		data, err = proto.MarshalOptions{Deterministic: true}.Marshal(msg)
	}
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	return nil
}
