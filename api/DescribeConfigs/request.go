package DescribeConfigs

import (
	"github.com/courier-mq/courier/api"
)

// Resource types.
const (
	ResourceTopic  int8 = 2
	ResourceBroker int8 = 4
)

// NewRequest describes configuration entries of one resource. A nil keys
// slice requests all entries.
func NewRequest(resourceType int8, resourceName string, keys []string) *api.Request {
	r := Resource{
		ResourceType:      resourceType,
		ResourceName:      resourceName,
		ConfigurationKeys: keys,
	}
	return &api.Request{
		ApiKey:     api.DescribeConfigs,
		ApiVersion: 0,
		Body: Request{
			Resources: []Resource{r},
		},
	}
}

type Request struct {
	Resources []Resource
}

type Resource struct {
	ResourceType      int8
	ResourceName      string
	ConfigurationKeys []string
}
