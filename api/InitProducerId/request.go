package InitProducerId

import (
	"github.com/courier-mq/courier/api"
)

// NewRequest obtains a producer id and epoch. TransactionalId is empty for
// plain idempotent producers. For transactional producers the call goes to
// the transaction coordinator for that id; re-initializing the same
// transactional id bumps the epoch, fencing any older producer instance.
func NewRequest(transactionalId string, transactionTimeoutMs int32) *api.Request {
	return &api.Request{
		ApiKey:     api.InitProducerId,
		ApiVersion: 0,
		Body: Request{
			TransactionalId:      transactionalId,
			TransactionTimeoutMs: transactionTimeoutMs,
		},
	}
}

type Request struct {
	TransactionalId      string // NULLABLE_STRING
	TransactionTimeoutMs int32
}
