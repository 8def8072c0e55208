package ListOffsets

import (
	"github.com/courier-mq/courier/api"
)

// Special timestamp values.
const (
	Newest int64 = -1
	Oldest int64 = -2
)

// NewRequest for the offset of the first message at or after timestamp
// (milliseconds since epoch), or Newest/Oldest.
func NewRequest(topic string, partition int32, timestamp int64) *api.Request {
	p := []RequestPartition{{Partition: partition, Timestamp: timestamp}}
	t := []RequestTopic{{Topic: topic, Partitions: p}}
	return &api.Request{
		ApiKey:     api.ListOffsets,
		ApiVersion: 2,
		Body: RequestBody{
			ReplicaId:      -1,
			IsolationLevel: 0,
			Topics:         t,
		},
	}
}

type RequestBody struct {
	ReplicaId      int32
	IsolationLevel int8
	Topics         []RequestTopic
}

type RequestTopic struct {
	Topic      string
	Partitions []RequestPartition
}

type RequestPartition struct {
	Partition int32
	Timestamp int64
}
