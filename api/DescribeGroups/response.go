package DescribeGroups

type Response struct {
	ThrottleTimeMs int32
	Groups         []Group
}

type Group struct {
	ErrorCode    int16
	GroupId      string
	GroupState   string
	ProtocolType string
	ProtocolData string
	Members      []Member
}

type Member struct {
	MemberId         string
	ClientId         string
	ClientHost       string
	MemberMetadata   []byte
	MemberAssignment []byte
}
