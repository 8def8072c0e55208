package CreateTopics

import (
	"github.com/courier-mq/courier/api"
)

func NewRequest(topics []Topic, timeoutMs int32, validateOnly bool) *api.Request {
	return &api.Request{
		ApiKey:     api.CreateTopics,
		ApiVersion: 2,
		Body: Request{
			Topics:       topics,
			TimeoutMs:    timeoutMs,
			ValidateOnly: validateOnly,
		},
	}
}

// NewTopic describes one topic to create. Assignments and Configs may be
// empty; the broker then places replicas itself and applies defaults.
func NewTopic(name string, numPartitions int32, replicationFactor int16) Topic {
	return Topic{
		Name:              name,
		NumPartitions:     numPartitions,
		ReplicationFactor: replicationFactor,
		Assignments:       []Assignment{},
		Configs:           []Config{},
	}
}

type Request struct {
	Topics       []Topic
	TimeoutMs    int32
	ValidateOnly bool
}

type Topic struct {
	Name              string
	NumPartitions     int32
	ReplicationFactor int16
	Assignments       []Assignment
	Configs           []Config
}

type Assignment struct {
	PartitionIndex int32
	BrokerIds      []int32
}

type Config struct {
	Name  string
	Value string
}
