package FindCoordinator

import (
	"github.com/courier-mq/courier/api"
)

// Coordinator key types.
const (
	CoordinatorGroup       int8 = 0
	CoordinatorTransaction int8 = 1
)

// NewRequest locates the coordinator for a group id (CoordinatorGroup) or a
// transactional id (CoordinatorTransaction).
func NewRequest(key string, keyType int8) *api.Request {
	return &api.Request{
		ApiKey:     api.FindCoordinator,
		ApiVersion: 1,
		Body: Request{
			Key:     key,
			KeyType: keyType,
		},
	}
}

type Request struct {
	Key     string
	KeyType int8
}
