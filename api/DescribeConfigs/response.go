package DescribeConfigs

type Response struct {
	ThrottleTimeMs int32
	Results        []Result
}

type Result struct {
	ErrorCode    int16
	ErrorMessage string
	ResourceType int8
	ResourceName string
	Configs      []ConfigEntry
}

type ConfigEntry struct {
	Name        string
	Value       string
	ReadOnly    bool
	IsDefault   bool
	IsSensitive bool
}
