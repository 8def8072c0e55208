package DescribeGroups

import (
	"github.com/courier-mq/courier/api"
)

func NewRequest(groups []string) *api.Request {
	return &api.Request{
		ApiKey:     api.DescribeGroups,
		ApiVersion: 1,
		Body: Request{
			Groups: groups,
		},
	}
}

type Request struct {
	Groups []string
}
