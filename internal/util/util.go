package util

// Pointer simply returns a pointer to the supplied value
func Pointer[T any](v T) *T {
	return &v
}

// ValueOrDefault dereferences p, or returns def when p is nil
func ValueOrDefault[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
