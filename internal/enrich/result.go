package enrich

// Result holds either a value or the error that prevented producing it.
type Result[T any] struct {
	Value T
	Err   error
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] { return Result[T]{Value: v} }

// Fail wraps an error.
func Fail[T any](err error) Result[T] { return Result[T]{Err: err} }

// OK reports whether the result carries a value.
func (r Result[T]) OK() bool { return r.Err == nil }

// OrElse returns the value, or fallback() when the result is an error.
func (r Result[T]) OrElse(fallback func() T) T {
	if r.Err != nil {
		return fallback()
	}
	return r.Value
}

// Then applies fn to a successful value. fn may reject it with an error,
// which turns the result into a failure.
func Then[T, U any](r Result[T], fn func(T) (U, error)) Result[U] {
	if r.Err != nil {
		return Fail[U](r.Err)
	}
	u, err := fn(r.Value)
	if err != nil {
		return Fail[U](err)
	}
	return Ok(u)
}
