package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when tearing down a streaming channel
// whose remaining data is no longer needed (e.g., a capture stream after the
// session has closed).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
