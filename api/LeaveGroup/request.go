package LeaveGroup

import (
	"github.com/courier-mq/courier/api"
)

func NewRequest(group, member string) *api.Request {
	return &api.Request{
		ApiKey:     api.LeaveGroup,
		ApiVersion: 1,
		Body: Request{
			GroupId:  group,
			MemberId: member,
		},
	}
}

type Request struct {
	GroupId  string
	MemberId string
}
