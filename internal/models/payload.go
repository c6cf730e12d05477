package models

// Payload carries handler arguments. Values decoded from JSON arrive as
// float64 and []interface{}, so the getters accept both shapes.
type Payload map[string]any

func (p Payload) GetInt64(key string) int64 {
	if p == nil {
		return 0
	}
	val, ok := p[key]
	if !ok {
		return 0
	}
	switch v := val.(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case int:
		return int64(v)
	default:
		return 0
	}
}

func (p Payload) GetString(key string) string {
	if p == nil {
		return ""
	}
	val, ok := p[key]
	if !ok {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func (p Payload) GetStrings(key string) []string {
	if p == nil {
		return nil
	}
	val, ok := p[key]
	if !ok {
		return nil
	}
	switch v := val.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
