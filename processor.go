package memo

// Processor transforms values on their way into and out of a slot.
// Pre runs once on freshly computed output, before it is written.
// Post runs once on the value read back, before it is returned.
type Processor[T any] interface {
	Pre(v T) (T, error)
	Post(v T) (T, error)
}

// ProcessorFuncs builds a Processor from optional functions. A nil field is
// the identity transform.
type ProcessorFuncs[T any] struct {
	PreFunc  func(T) (T, error)
	PostFunc func(T) (T, error)
}

// Pre implements Processor.
func (p ProcessorFuncs[T]) Pre(v T) (T, error) {
	if p.PreFunc == nil {
		return v, nil
	}
	return p.PreFunc(v)
}

// Post implements Processor.
func (p ProcessorFuncs[T]) Post(v T) (T, error) {
	if p.PostFunc == nil {
		return v, nil
	}
	return p.PostFunc(v)
}
