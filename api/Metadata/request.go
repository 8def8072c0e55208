package Metadata

import (
	"github.com/courier-mq/courier/api"
)

// NewRequest for the given topics. A nil topics slice requests metadata for
// all topics in the cluster.
func NewRequest(topics []string) *api.Request {
	return &api.Request{
		ApiKey:     api.Metadata,
		ApiVersion: 5,
		Body: Request{
			Topics:                 topics,
			AllowAutoTopicCreation: false,
		},
	}
}

type Request struct {
	Topics                 []string
	AllowAutoTopicCreation bool
}
