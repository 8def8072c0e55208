/*
Package batch implements building, marshaling, and unmarshaling of record
batches.

A batch is the unit at which records are produced, fetched, sequenced, and
compressed. All records in a batch belong to one (topic, partition). For
producing, create a Builder, Add records, call Build, then optionally
Compress, then Marshal. For consuming, split a fetched RecordSet into batch
byte slices with RecordSet.Batches, Unmarshal each, Decompress, and finally
unmarshal individual records with package record.
*/
package batch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"reflect"
	"time"

	"github.com/courier-mq/courier/compression"
	"github.com/courier-mq/courier/record"
	"github.com/courier-mq/courier/varint"
	"github.com/courier-mq/courier/wire"
)

func NewBuilder(now time.Time) *Builder {
	return &Builder{t: now}
}

// Builder accumulates records for one batch. There is no limit on the number
// of records (that is up to the caller). Not safe for concurrent use.
type Builder struct {
	t       time.Time
	records []*record.Record
}

// Add records to the batch. The builder keeps references to added records
// until it is released.
func (b *Builder) Add(records ...*record.Record) {
	b.records = append(b.records, records...)
}

func (b *Builder) AddStrings(values ...string) *Builder {
	for _, s := range values {
		b.records = append(b.records, record.New(nil, []byte(s)))
	}
	return b
}

// NumRecords that have been added to the builder.
func (b *Builder) NumRecords() int {
	return len(b.records)
}

var (
	ErrEmpty     = errors.New("empty batch")
	ErrNilRecord = errors.New("nil record in batch")
)

// batch header bytes counted by BatchLengthBytes: everything from
// PartitionLeaderEpoch through NumRecords.
const headerBytes = 49

// crc covers the bytes from Attributes onward: BaseOffset(8) +
// BatchLengthBytes(4) + PartitionLeaderEpoch(4) + Magic(1) + Crc(4) = 21
// bytes precede it.
const crcOffset = 21

// Build marshals the added records and assembles batch metadata. Batch
// FirstTimestamp is the builder creation time and MaxTimestamp is the time
// passed to Build; records carry a zero TimestampDelta. The returned batch is
// uncompressed with no producer identity (call Compress and SetProducerState
// before Marshal as needed). Idempotent.
func (b *Builder) Build(now time.Time) (*Batch, error) {
	if len(b.records) == 0 {
		return nil, ErrEmpty
	}
	buf := new(bytes.Buffer)
	for i, r := range b.records {
		if r == nil {
			return nil, ErrNilRecord
		}
		r.OffsetDelta = int64(i)
		buf.Write(r.Marshal())
	}
	marshaledRecords := buf.Bytes()
	return &Batch{
		BatchLengthBytes: int32(headerBytes + len(marshaledRecords)),
		Magic:            2,
		Attributes:       compression.None,
		LastOffsetDelta:  int32(len(b.records) - 1),
		FirstTimestamp:   b.t.UnixNano() / int64(time.Millisecond),
		MaxTimestamp:     now.UnixNano() / int64(time.Millisecond),
		ProducerId:       -1,
		ProducerEpoch:    -1,
		BaseSequence:     -1,
		NumRecords:       int32(len(b.records)),
		MarshaledRecords: marshaledRecords,
	}, nil
}

var (
	CorruptedBatchError = errors.New("batch crc does not match bytes")
	crc32c              = crc32.MakeTable(crc32.Castagnoli)
)

// Unmarshal the batch. On error batch is nil. A crc mismatch returns
// CorruptedBatchError; in that case there is no way to tell how many records
// the batch held.
func Unmarshal(b []byte) (*Batch, error) {
	buf := bytes.NewBuffer(b)
	batch := &Batch{}
	if err := wire.Read(buf, reflect.ValueOf(batch)); err != nil {
		return nil, err
	}
	batch.MarshaledRecords = buf.Bytes() // the remainder is the record bodies
	if crc := crc32.Checksum(b[crcOffset:], crc32c); crc != batch.Crc {
		return nil, CorruptedBatchError
	}
	return batch, nil
}

// Batch in wire format. Not safe for concurrent use.
type Batch struct {
	BaseOffset           int64
	BatchLengthBytes     int32
	PartitionLeaderEpoch int32
	Magic                int8 // =2
	Crc                  uint32
	Attributes           int16
	LastOffsetDelta      int32 // NumRecords-1
	FirstTimestamp       int64 // ms since epoch
	MaxTimestamp         int64 // ms since epoch
	ProducerId           int64 // -1 unless idempotent or transactional
	ProducerEpoch        int16 // -1 unless idempotent or transactional
	BaseSequence         int32 // -1 unless idempotent or transactional
	NumRecords           int32
	//
	MarshaledRecords []byte `wire:"omit" json:"-"`
	Topic            string `wire:"omit"`
	Partition        int32  `wire:"omit"`
}

// batch attributes bits
const (
	TimestampCreate    int16 = 0b000000
	TimestampLogAppend int16 = 0b001000
	Transactional      int16 = 0b010000
	Control            int16 = 0b100000
)

func (batch *Batch) CompressionType() int16 {
	return batch.Attributes & 0b111
}

func (batch *Batch) TimestampType() int16 {
	return batch.Attributes & TimestampLogAppend
}

func (batch *Batch) IsTransactional() bool {
	return batch.Attributes&Transactional != 0
}

// IsControl reports whether the batch holds control records (transaction
// commit and abort markers). Control batches carry no user data and are
// skipped when consuming.
func (batch *Batch) IsControl() bool {
	return batch.Attributes&Control != 0
}

func (batch *Batch) LastOffset() int64 {
	return batch.BaseOffset + int64(batch.LastOffsetDelta)
}

// SetProducerState stamps the batch with a producer identity and a base
// sequence number. Sequence numbers must be contiguous and monotonically
// increasing per (producer id, partition); the broker deduplicates retried
// batches by (producer id, partition, sequence range). A batch that is
// requeued after a retryable error must keep its original sequence.
// Invalidates the crc.
func (batch *Batch) SetProducerState(id int64, epoch int16, baseSequence int32, transactional bool) {
	batch.ProducerId = id
	batch.ProducerEpoch = epoch
	batch.BaseSequence = baseSequence
	if transactional {
		batch.Attributes |= Transactional
	}
	batch.Crc = 0
}

// Marshal the batch header and append the marshaled records. Call Compress
// first if the batch should be compressed. Mutates the batch Crc.
func (batch *Batch) Marshal() RecordSet {
	buf := new(bytes.Buffer)
	if err := wire.Write(buf, reflect.ValueOf(batch)); err != nil {
		panic(err)
	}
	buf.Write(batch.MarshaledRecords)
	b := buf.Bytes()
	batch.Crc = crc32.Checksum(b[crcOffset:], crc32c)
	binary.BigEndian.PutUint32(b[17:], batch.Crc)
	return b
}

// Compress batch records with the supplied codec. Mutates the batch on
// success only. Call before Marshal. Not idempotent (on success).
func (batch *Batch) Compress(c compression.Codec) error {
	if c.Type() == compression.None {
		return nil
	}
	b, err := c.Compress(batch.MarshaledRecords)
	if err != nil {
		return fmt.Errorf("error compressing batch records: %w", err)
	}
	batch.BatchLengthBytes = int32(headerBytes + len(b))
	batch.Attributes = (batch.Attributes &^ 0b111) | c.Type()
	batch.Crc = 0 // invalidate crc
	batch.MarshaledRecords = b
	return nil
}

// Decompress batch records using the codec recorded in the batch attributes.
// Returns an error wrapping compression.ErrUnsupported when the batch was
// compressed with a codec this client does not know; such a batch must not
// be retried. Call after Unmarshal and before Records. Not idempotent.
func (batch *Batch) Decompress() error {
	c, err := compression.Get(batch.Attributes)
	if err != nil {
		return err
	}
	if c.Type() == compression.None {
		return nil
	}
	b, err := c.Decompress(batch.MarshaledRecords)
	if err != nil {
		return fmt.Errorf("error decompressing record batch: %w", err)
	}
	batch.BatchLengthBytes = int32(headerBytes + len(b))
	batch.Attributes = batch.Attributes &^ 0b111
	batch.Crc = 0 // invalidate crc
	batch.MarshaledRecords = b
	return nil
}

// Records returns the marshaled bytes of individual records in the batch.
// Decompress must be called first on compressed batches.
func (batch *Batch) Records() [][]byte {
	var records [][]byte
	for b := batch.MarshaledRecords; len(b) > 0; {
		length, n := varint.DecodeZigZag64(b)
		if n == 0 {
			break
		}
		n += int(length)
		if n > len(b) {
			break
		}
		records = append(records, b[0:n])
		b = b[n:]
	}
	return records
}

// RecordSet is 1 or more marshaled record batches, as returned by Fetch
// calls. The byte representation of a record set with a single batch is
// identical to that batch.
type RecordSet []byte

// Batches splits the record set into individual batch byte slices. Because
// response sizes are capped, the last batch in the set may be truncated; a
// truncated final batch is discarded.
func (b RecordSet) Batches() [][]byte {
	var batches [][]byte
	var offset int64
	var length int32
	for {
		if len(b) == 0 {
			break
		}
		r := bytes.NewReader(b)
		if err := binary.Read(r, binary.BigEndian, &offset); err != nil {
			break
		}
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			break
		}
		n := int(length + 8 + 4)
		if len(b) < n {
			break // truncated batch
		}
		batches = append(batches, b[:n])
		b = b[n:]
	}
	return batches
}
