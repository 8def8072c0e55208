package AddPartitionsToTxn

import (
	"github.com/courier-mq/courier/api"
)

// NewRequest enlists partitions in the open transaction. The producer sends
// this before the first produce to each partition within a transaction.
func NewRequest(transactionalId string, producerId int64, producerEpoch int16, topics map[string][]int32) *api.Request {
	var ts []Topic
	for name, partitions := range topics {
		ts = append(ts, Topic{Name: name, Partitions: partitions})
	}
	return &api.Request{
		ApiKey:     api.AddPartitionsToTxn,
		ApiVersion: 0,
		Body: Request{
			TransactionalId: transactionalId,
			ProducerId:      producerId,
			ProducerEpoch:   producerEpoch,
			Topics:          ts,
		},
	}
}

type Request struct {
	TransactionalId string
	ProducerId      int64
	ProducerEpoch   int16
	Topics          []Topic
}

type Topic struct {
	Name       string
	Partitions []int32
}
