package ApiVersions

type Response struct {
	ErrorCode int16
	ApiKeys   []ApiKeyVersion
}

type ApiKeyVersion struct {
	ApiKey     int16
	MinVersion int16
	MaxVersion int16
}

// Max returns the highest version of apiKey supported by the broker, capped
// at ceiling (the highest version this client implements). Returns -1 if the
// broker does not support the API at all.
func (r *Response) Max(apiKey, ceiling int16) int16 {
	for _, k := range r.ApiKeys {
		if k.ApiKey != apiKey {
			continue
		}
		if k.MaxVersion < ceiling {
			return k.MaxVersion
		}
		return ceiling
	}
	return -1
}
