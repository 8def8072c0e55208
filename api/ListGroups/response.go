package ListGroups

type Response struct {
	ThrottleTimeMs int32
	ErrorCode      int16
	Groups         []Group
}

type Group struct {
	GroupId      string
	ProtocolType string
}
