package EndTxn

import (
	"github.com/courier-mq/courier/api"
)

// NewRequest commits (committed=true) or aborts the open transaction. The
// coordinator writes transaction markers to every enlisted partition and
// retries partial failures itself; the client never sees a partial commit.
func NewRequest(transactionalId string, producerId int64, producerEpoch int16, committed bool) *api.Request {
	return &api.Request{
		ApiKey:     api.EndTxn,
		ApiVersion: 0,
		Body: Request{
			TransactionalId: transactionalId,
			ProducerId:      producerId,
			ProducerEpoch:   producerEpoch,
			Committed:       committed,
		},
	}
}

type Request struct {
	TransactionalId string
	ProducerId      int64
	ProducerEpoch   int16
	Committed       bool
}
