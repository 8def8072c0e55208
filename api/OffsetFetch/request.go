package OffsetFetch

import (
	"github.com/courier-mq/courier/api"
)

func NewRequest(group string, topics map[string][]int32) *api.Request {
	var ts []Topic
	for name, partitions := range topics {
		ts = append(ts, Topic{Name: name, PartitionIndexes: partitions})
	}
	return &api.Request{
		ApiKey:     api.OffsetFetch,
		ApiVersion: 3,
		Body: Request{
			GroupId: group,
			Topics:  ts,
		},
	}
}

type Request struct {
	GroupId string
	Topics  []Topic
}

type Topic struct {
	Name             string
	PartitionIndexes []int32
}
