package utils

// ToStringSlice converts a decoded JSON array into a string slice.
// It reports false if any element is not a string.
func ToStringSlice(slice []any) ([]string, bool) {
	stringSlice := make([]string, 0, len(slice))
	for _, v := range slice {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		stringSlice = append(stringSlice, s)
	}
	return stringSlice, true
}
