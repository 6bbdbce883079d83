//go:build debug

package channel

// New ignores size in debug builds and returns an unbuffered channel, so a
// slow frame loop shows up as a blocked input reader instead of a deep queue.
func New[T any](size int) Channel[T] {
	return NewUnbuffered[T]()
}
