package AddPartitionsToTxn

type Response struct {
	ThrottleTimeMs int32
	Results        []TopicResult
}

type TopicResult struct {
	Name    string
	Results []PartitionResult
}

type PartitionResult struct {
	Partition int32
	ErrorCode int16
}

// ErrorCode returns the first non-zero partition error code, or 0.
func (r *Response) ErrorCode() int16 {
	for _, t := range r.Results {
		for _, p := range t.Results {
			if p.ErrorCode != 0 {
				return p.ErrorCode
			}
		}
	}
	return 0
}
