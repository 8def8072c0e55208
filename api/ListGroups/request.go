package ListGroups

import (
	"github.com/courier-mq/courier/api"
)

func NewRequest() *api.Request {
	return &api.Request{
		ApiKey:     api.ListGroups,
		ApiVersion: 1,
		Body:       Request{},
	}
}

type Request struct{}
