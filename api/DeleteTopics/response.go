package DeleteTopics

type Response struct {
	ThrottleTimeMs int32
	Responses      []TopicResponse
}

type TopicResponse struct {
	Name      string
	ErrorCode int16
}
