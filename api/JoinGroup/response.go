package JoinGroup

type Response struct {
	ThrottleTimeMs int32
	ErrorCode      int16
	GenerationId   int32
	ProtocolName   string
	// Leader is the member id of the group leader. The leader computes the
	// partition assignment and distributes it via SyncGroup.
	Leader   string
	MemberId string
	// Members is populated only in the leader's response.
	Members []Member
}

func (r *Response) IsLeader() bool {
	return r.MemberId != "" && r.MemberId == r.Leader
}

type Member struct {
	MemberId string
	Metadata []byte
}
