package reactive

// StartFunc is called when a Writable gains its first observer. It receives
// the container's setter and returns the teardown run when the last
// observer leaves.
type StartFunc[T any] func(set func(T)) (stop func())

// Writable is a Subscriber whose lifecycle is a start closure.
type Writable[T any] struct {
	*Subscriber[T]
}

type closureLifecycle[T any] struct {
	start StartFunc[T]
	set   func(T)
	stop  func()
}

func (c *closureLifecycle[T]) Start() {
	if c.start != nil {
		c.stop = c.start(c.set)
	}
}

func (c *closureLifecycle[T]) Stop() {
	if c.stop != nil {
		stop := c.stop
		c.stop = nil
		stop()
	}
}

// NewWritable creates a container started by start. A nil start makes a
// plain settable value.
func NewWritable[T any](start StartFunc[T], opts ...Option) *Writable[T] {
	life := &closureLifecycle[T]{start: start}
	sub := NewSubscriber[T](life, opts...)
	life.set = sub.Set
	return &Writable[T]{Subscriber: sub}
}
