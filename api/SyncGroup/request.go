package SyncGroup

// https://cwiki.apache.org/confluence/display/KAFKA/Kafka+Client-side+Assignment+Proposal

import (
	"github.com/courier-mq/courier/api"
)

// NewRequest with the leader's computed assignments. Non-leader members send
// an empty assignments list and receive their own assignment in the response.
func NewRequest(group, member string, generation int32, assignments []Assignment) *api.Request {
	return &api.Request{
		ApiKey:     api.SyncGroup,
		ApiVersion: 1,
		Body: Request{
			GroupId:      group,
			GenerationId: generation,
			MemberId:     member,
			Assignments:  assignments,
		},
	}
}

type Request struct {
	GroupId      string
	GenerationId int32
	MemberId     string
	Assignments  []Assignment
}

type Assignment struct {
	MemberId   string
	Assignment []byte
}
