package InitProducerId

type Response struct {
	ThrottleTimeMs int32
	ErrorCode      int16
	ProducerId     int64
	ProducerEpoch  int16
}
