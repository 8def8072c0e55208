package batch

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/courier-mq/courier/compression"
	"github.com/courier-mq/courier/record"
)

// this came from the wire from a live kafka 1.0 broker
const recordBatchFixture = `AAAAAAAAAAMAAABMAAAAAAJx8ZMnAAAAAAACAAABbZh/W
LMAAAFtmH9Ys/////////////8AAAAAAAAAAxAAAAABBG0xABAAAAIBBG0yABAAAAQBBG0zAA==`

func TestUnitUnmarshalFixture(t *testing.T) {
	fixture, _ := base64.StdEncoding.DecodeString(recordBatchFixture)
	batch, err := Unmarshal(fixture)
	if err != nil {
		t.Fatal(err)
	}
	if batch.Crc != 1911657255 {
		t.Fatal(batch.Crc)
	}
	if batch.NumRecords != 3 {
		t.Fatal(batch.NumRecords)
	}
	records := batch.Records()
	if len(records) != 3 {
		t.Fatal(len(records))
	}
	r, err := record.Unmarshal(records[1])
	if err != nil {
		t.Fatal(err)
	}
	if string(r.Value) != "m2" {
		t.Fatal(r.Value)
	}
}

func TestUnitUnmarshalFixtureCorrupted(t *testing.T) {
	fixture, _ := base64.StdEncoding.DecodeString(recordBatchFixture)
	fixture[len(fixture)-1] ^= 0xff
	if _, err := Unmarshal(fixture); !errors.Is(err, CorruptedBatchError) {
		t.Fatal(err)
	}
}

func TestUnitRecordSetBatches(t *testing.T) {
	fixture, _ := base64.StdEncoding.DecodeString(recordBatchFixture)
	batches := RecordSet(fixture).Batches()
	if n := len(batches); n != 1 {
		t.Fatal(n)
	}
	// two batches back to back
	double := append(append([]byte{}, fixture...), fixture...)
	batches = RecordSet(double).Batches()
	if n := len(batches); n != 2 {
		t.Fatal(n)
	}
	// a truncated final batch is discarded
	truncated := double[:len(double)-1]
	batches = RecordSet(truncated).Batches()
	if n := len(batches); n != 1 {
		t.Fatal(n)
	}
}

func TestUnitBuildMarshalUnmarshal(t *testing.T) {
	builder := NewBuilder(time.Unix(1000, 0)).AddStrings("foo", "bar", "baz")
	b, err := builder.Build(time.Unix(1001, 0))
	if err != nil {
		t.Fatal(err)
	}
	if b.NumRecords != 3 || b.LastOffsetDelta != 2 {
		t.Fatalf("%+v", b)
	}
	out, err := Unmarshal(b.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if out.NumRecords != 3 {
		t.Fatal(out.NumRecords)
	}
	if out.FirstTimestamp != 1000000 || out.MaxTimestamp != 1001000 {
		t.Fatalf("%+v", out)
	}
	records := out.Records()
	if len(records) != 3 {
		t.Fatal(len(records))
	}
	r, err := record.Unmarshal(records[2])
	if err != nil {
		t.Fatal(err)
	}
	if string(r.Value) != "baz" || r.OffsetDelta != 2 {
		t.Fatalf("%+v", r)
	}
}

func TestUnitBuildEmpty(t *testing.T) {
	if _, err := NewBuilder(time.Now()).Build(time.Now()); !errors.Is(err, ErrEmpty) {
		t.Fatal(err)
	}
}

func TestUnitBuildNilRecord(t *testing.T) {
	b := NewBuilder(time.Now())
	b.Add(nil)
	if _, err := b.Build(time.Now()); !errors.Is(err, ErrNilRecord) {
		t.Fatal(err)
	}
}

func TestUnitCompressDecompress(t *testing.T) {
	for _, name := range []string{"gzip", "snappy", "lz4", "zstd"} {
		codec, err := compression.Parse(name)
		if err != nil {
			t.Fatal(err)
		}
		b, err := NewBuilder(time.Now()).AddStrings("foo", "bar", "baz").Build(time.Now())
		if err != nil {
			t.Fatal(err)
		}
		plain := append([]byte{}, b.MarshaledRecords...)
		if err := b.Compress(codec); err != nil {
			t.Fatal(name, err)
		}
		if b.CompressionType() != codec.Type() {
			t.Fatal(name, b.CompressionType())
		}
		out, err := Unmarshal(b.Marshal())
		if err != nil {
			t.Fatal(name, err)
		}
		if err := out.Decompress(); err != nil {
			t.Fatal(name, err)
		}
		if !bytes.Equal(out.MarshaledRecords, plain) {
			t.Fatal(name)
		}
		if out.CompressionType() != compression.None {
			t.Fatal(name, out.CompressionType())
		}
	}
}

func TestUnitSetProducerState(t *testing.T) {
	b, err := NewBuilder(time.Now()).AddStrings("foo").Build(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if b.ProducerId != -1 || b.ProducerEpoch != -1 || b.BaseSequence != -1 {
		t.Fatalf("%+v", b)
	}
	b.SetProducerState(7, 2, 100, true)
	out, err := Unmarshal(b.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if out.ProducerId != 7 || out.ProducerEpoch != 2 || out.BaseSequence != 100 {
		t.Fatalf("%+v", out)
	}
	if !out.IsTransactional() {
		t.Fatal(out.Attributes)
	}
	if out.IsControl() {
		t.Fatal(out.Attributes)
	}
}

func TestUnitTimestampType(t *testing.T) {
	b, err := NewBuilder(time.Now()).AddStrings("foo").Build(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if b.TimestampType() != TimestampCreate {
		t.Fatal(b.TimestampType())
	}
	b.Attributes |= TimestampLogAppend
	if b.TimestampType() != TimestampLogAppend {
		t.Fatal(b.TimestampType())
	}
}
