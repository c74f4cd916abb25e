package types

// Usage holds token counts. A nil field means the provider did not report it,
// which is different from reporting zero.
type Usage struct {
	InputTokens       *int64 `json:"inputTokens,omitempty"`
	OutputTokens      *int64 `json:"outputTokens,omitempty"`
	TotalTokens       *int64 `json:"totalTokens,omitempty"`
	ReasoningTokens   *int64 `json:"reasoningTokens,omitempty"`
	CachedInputTokens *int64 `json:"cachedInputTokens,omitempty"`
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}

// ZeroUsage returns usage with input, output and total reported as zero.
func ZeroUsage() Usage {
	return Usage{InputTokens: Int64(0), OutputTokens: Int64(0), TotalTokens: Int64(0)}
}

// IsEmpty reports whether no field is set.
func (u Usage) IsEmpty() bool {
	return u.InputTokens == nil && u.OutputTokens == nil && u.TotalTokens == nil &&
		u.ReasoningTokens == nil && u.CachedInputTokens == nil
}

// Clone returns a copy that shares no pointers with u.
func (u Usage) Clone() Usage {
	return Usage{
		InputTokens:       copyInt(u.InputTokens),
		OutputTokens:      copyInt(u.OutputTokens),
		TotalTokens:       copyInt(u.TotalTokens),
		ReasoningTokens:   copyInt(u.ReasoningTokens),
		CachedInputTokens: copyInt(u.CachedInputTokens),
	}
}

// Add sums u and other field by field. A field stays nil only when it is
// nil on both sides.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:       addInt(u.InputTokens, other.InputTokens),
		OutputTokens:      addInt(u.OutputTokens, other.OutputTokens),
		TotalTokens:       addInt(u.TotalTokens, other.TotalTokens),
		ReasoningTokens:   addInt(u.ReasoningTokens, other.ReasoningTokens),
		CachedInputTokens: addInt(u.CachedInputTokens, other.CachedInputTokens),
	}
}

// Value returns the field value or zero.
func Value(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func copyInt(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func addInt(a, b *int64) *int64 {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		return copyInt(b)
	case b == nil:
		return copyInt(a)
	}
	v := *a + *b
	return &v
}
