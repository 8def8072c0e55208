package CreateTopics

type Response struct {
	ThrottleTimeMs int32
	Topics         []TopicResponse
}

type TopicResponse struct {
	Name         string
	ErrorCode    int16
	ErrorMessage string
}
