// Package api defines protocol requests and responses. Each API call has its
// own subpackage with plain request/response structs marshaled by package
// wire. One concrete (pre-flexible) version is pinned per API key; see each
// subpackage's NewRequest.
package api

const (
	Produce            int16 = 0
	Fetch              int16 = 1
	ListOffsets        int16 = 2
	Metadata           int16 = 3
	OffsetCommit       int16 = 8
	OffsetFetch        int16 = 9
	FindCoordinator    int16 = 10
	JoinGroup          int16 = 11
	Heartbeat          int16 = 12
	LeaveGroup         int16 = 13
	SyncGroup          int16 = 14
	DescribeGroups     int16 = 15
	ListGroups         int16 = 16
	ApiVersions        int16 = 18
	CreateTopics       int16 = 19
	DeleteTopics       int16 = 20
	InitProducerId     int16 = 22
	AddPartitionsToTxn int16 = 24
	EndTxn             int16 = 26
	DescribeConfigs    int16 = 32
	CreatePartitions   int16 = 37
)

var Keys = map[int16]string{
	0:  "Produce",
	1:  "Fetch",
	2:  "ListOffsets",
	3:  "Metadata",
	8:  "OffsetCommit",
	9:  "OffsetFetch",
	10: "FindCoordinator",
	11: "JoinGroup",
	12: "Heartbeat",
	13: "LeaveGroup",
	14: "SyncGroup",
	15: "DescribeGroups",
	16: "ListGroups",
	18: "ApiVersions",
	19: "CreateTopics",
	20: "DeleteTopics",
	22: "InitProducerId",
	24: "AddPartitionsToTxn",
	26: "EndTxn",
	32: "DescribeConfigs",
	37: "CreatePartitions",
}
