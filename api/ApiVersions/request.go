package ApiVersions

import (
	"github.com/courier-mq/courier/api"
)

func NewRequest() *api.Request {
	return &api.Request{
		ApiKey:     api.ApiVersions,
		ApiVersion: 0,
	}
}
