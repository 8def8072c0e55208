package Fetch

import (
	"github.com/courier-mq/courier/api"
)

// Isolation levels. ReadCommitted makes the broker return records only up to
// the last stable offset, excluding records from aborted transactions.
const (
	ReadUncommitted int8 = 0
	ReadCommitted   int8 = 1
)

type Args struct {
	ClientId          string
	Topic             string
	Partition         int32
	Offset            int64
	MinBytes          int32
	MaxBytes          int32
	PartitionMaxBytes int32
	MaxWaitTimeMs     int32
	IsolationLevel    int8
}

func NewRequest(args *Args) *api.Request {
	p := Partition{
		Partition:         args.Partition,
		FetchOffset:       args.Offset,
		PartitionMaxBytes: args.PartitionMaxBytes,
	}
	t := Topic{
		Topic:      args.Topic,
		Partitions: []Partition{p},
	}
	return &api.Request{
		ApiKey:     api.Fetch,
		ApiVersion: 6,
		ClientId:   args.ClientId,
		Body: Request{
			ReplicaId:      -1,
			MaxWaitTimeMs:  args.MaxWaitTimeMs,
			MinBytes:       args.MinBytes,
			MaxBytes:       args.MaxBytes,
			IsolationLevel: args.IsolationLevel,
			Topics:         []Topic{t},
		},
	}
}

type Request struct {
	ReplicaId      int32
	MaxWaitTimeMs  int32
	MinBytes       int32
	MaxBytes       int32
	IsolationLevel int8
	Topics         []Topic
}

type Topic struct {
	Topic      string
	Partitions []Partition
}

type Partition struct {
	Partition         int32
	FetchOffset       int64
	LogStartOffset    int64
	PartitionMaxBytes int32
}
