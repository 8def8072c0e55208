package SyncGroup

type Response struct {
	ThrottleTimeMs int32
	ErrorCode      int16
	Assignment     []byte
}
