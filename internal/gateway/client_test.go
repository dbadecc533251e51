package gateway

import (
	"sync"
	"testing"
)

func TestEnqueueAfterCloseIsSafe(t *testing.T) {
	c := newClient(nil, "u1")

	if !c.enqueue([]byte("frame")) {
		t.Fatal("Expected enqueue to succeed on an open client")
	}

	c.close()
	if c.enqueue([]byte("frame")) {
		t.Error("Expected enqueue on a closed client to report false")
	}
	// Closing twice must also be a no-op.
	c.close()
}

func TestConcurrentEnqueueAndClose(t *testing.T) {
	for i := 0; i < 1000; i++ {
		c := newClient(nil, "u1")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				c.enqueue([]byte("frame"))
			}
		}()
		go func() {
			defer wg.Done()
			c.close()
		}()
		wg.Wait()
	}
}
