package types

// ToolOutput is the result every tool returns.
// Only OutputMessage is shown to the model. Details and Meta stay host-side.
type ToolOutput struct {
	OK            bool           `json:"ok"`
	OutputMessage string         `json:"outputMessage"`
	Details       any            `json:"details,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
}

// Clone returns a deep copy of o.
func (o ToolOutput) Clone() ToolOutput {
	out := o
	out.Details = cloneValue(o.Details)
	if o.Meta != nil {
		out.Meta = cloneMap(o.Meta)
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the JSON-shaped containers inside v. Struct values are
// copied by assignment; pointers are shared.
func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	case []byte:
		return append([]byte(nil), val...)
	default:
		return v
	}
}
