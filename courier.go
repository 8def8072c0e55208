/*
Package courier is a client library for Kafka-style partitioned message
brokers. It implements a batching producer (plain, idempotent, and
transactional), a consumer-group consumer, and an admin client, all sharing
one connection pool and one cluster metadata cache per client instance.


Project Scope

The library talks to an external broker cluster over a length-prefixed binary
protocol. It does not implement a broker. All durable state (offsets, topic
metadata, transaction status) lives on the cluster; the client is stateless
across restarts.


Get Started

Read the documentation for the "producer" and "consumer" packages. Admin
operations (topic and group management) live in the "admin" package.


Design Decisions

1. Record batches are the unit of work. Produce and Fetch calls operate on
record batches: batches are the unit of partitioning, sequencing, and
compression. Building and parsing batches (package "batch") is separate from
producing and fetching.

2. One connection per broker, many requests in flight. Each connection
multiplexes requests by correlation id, so responses may arrive out of order
and are dispatched back to the originating caller. MaxInFlightRequests bounds
how many requests may be outstanding on a connection; this is the primary
backpressure valve on the write path.

3. Wide use of reflection for API calls. Requests and responses are plain
structs marshaled by package "wire". API calls are not frequent enough for
this to matter. Record marshaling, which is hot, is done inline.

4. Limited data hiding. Internal structures are exposed where that makes
debugging and metrics collection easier. The library is not child proof.
*/
package courier

import (
	"time"

	"github.com/courier-mq/courier/batch"
	"github.com/courier-mq/courier/record"
)

// DialTimeout is used for all broker connection attempts.
var DialTimeout = 5 * time.Second

// ConnectionTTL, when >0, bounds the lifetime of a broker connection. The
// connection is closed and re-dialed on the next call after it expires. Zero
// means connections live until they error.
var ConnectionTTL time.Duration

func NewRecord(key, value []byte) *Record {
	return record.New(key, value)
}

type Record = record.Record

type Batch = batch.Batch
