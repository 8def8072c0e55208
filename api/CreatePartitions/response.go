package CreatePartitions

type Response struct {
	ThrottleTimeMs int32
	Results        []TopicResult
}

type TopicResult struct {
	Name         string
	ErrorCode    int16
	ErrorMessage string
}
