package Produce

type Response struct {
	TopicResponses []TopicResponse
	ThrottleTimeMs int32
}

type TopicResponse struct {
	Topic              string
	PartitionResponses []PartitionResponse
}

type PartitionResponse struct {
	Partition      int32
	ErrorCode      int16
	BaseOffset     int64
	LogAppendTime  int64
	LogStartOffset int64
}
