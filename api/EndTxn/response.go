package EndTxn

type Response struct {
	ThrottleTimeMs int32
	ErrorCode      int16
}
