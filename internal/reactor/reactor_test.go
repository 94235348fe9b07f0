package reactor

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReactorReadsFromPipe(t *testing.T) {
	t.Parallel()
	r, err := New(testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Stop()

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(fds[1])

	received := make(chan []byte, 1)
	s := NewStream(fds[0])
	s.OnRead = func(data []byte, err error) {
		if err != nil {
			return
		}
		cp := append([]byte(nil), data...)
		received <- cp
	}
	r.AddStream(s)
	r.StartRead(s)

	time.Sleep(20 * time.Millisecond) // let the add/start-read commands land
	if _, err := unix.Write(fds[1], []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != "hello" {
			t.Errorf("read %q, want %q", data, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reactor to deliver read")
	}
}

func TestReactorStopClosesCleanly(t *testing.T) {
	t.Parallel()
	r, err := New(testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
