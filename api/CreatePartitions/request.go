package CreatePartitions

import (
	"github.com/courier-mq/courier/api"
)

// NewRequest grows topics to the given total partition counts. Counts can
// only grow; the broker rejects a count lower than the current one with
// INVALID_PARTITIONS.
func NewRequest(topics []Topic, timeoutMs int32, validateOnly bool) *api.Request {
	return &api.Request{
		ApiKey:     api.CreatePartitions,
		ApiVersion: 0,
		Body: Request{
			Topics:       topics,
			TimeoutMs:    timeoutMs,
			ValidateOnly: validateOnly,
		},
	}
}

type Request struct {
	Topics       []Topic
	TimeoutMs    int32
	ValidateOnly bool
}

type Topic struct {
	Name  string
	Count int32
	// Assignments is nullable: nil lets the broker place the new replicas.
	Assignments []Assignment
}

type Assignment struct {
	BrokerIds []int32
}
