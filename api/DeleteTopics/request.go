package DeleteTopics

import (
	"github.com/courier-mq/courier/api"
)

func NewRequest(topics []string, timeoutMs int32) *api.Request {
	return &api.Request{
		ApiKey:     api.DeleteTopics,
		ApiVersion: 1,
		Body: Request{
			TopicNames: topics,
			TimeoutMs:  timeoutMs,
		},
	}
}

type Request struct {
	TopicNames []string
	TimeoutMs  int32
}
