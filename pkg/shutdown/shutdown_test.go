package shutdown

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/psantana5/workgate/pkg/logging"
)

func quietLogger() *logging.Logger {
	l := logging.NewLogger(logging.ERROR, false)
	l.SetOutput(&bytes.Buffer{})
	return l
}

func TestShutdown_LIFO(t *testing.T) {
	m := New(time.Second, quietLogger())

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		m.Register(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}

	want := []string{"third", "second", "first"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Expected order %v, got %v", want, order)
		}
	}
}

func TestShutdown_CollectsErrors(t *testing.T) {
	m := New(time.Second, quietLogger())
	boom := errors.New("boom")

	ran := false
	m.Register("ok", func(ctx context.Context) error {
		ran = true
		return nil
	})
	m.Register("broken", func(ctx context.Context) error { return boom })

	err := m.Shutdown()
	if !errors.Is(err, boom) {
		t.Errorf("Expected boom in error, got %v", err)
	}
	if !ran {
		t.Error("A failing hook must not stop the remaining hooks")
	}
}

func TestWait_Trigger(t *testing.T) {
	m := New(time.Second, quietLogger())

	returned := make(chan struct{})
	go func() {
		m.Wait(context.Background())
		close(returned)
	}()

	m.Trigger()
	m.Trigger()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Trigger")
	}

	select {
	case <-m.Done():
	default:
		t.Error("Done should be closed")
	}
}

type fakeServer struct{ err error }

func (f fakeServer) Shutdown(ctx context.Context) error { return f.err }

func TestStopHTTPServer(t *testing.T) {
	if err := StopHTTPServer(fakeServer{})(context.Background()); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}

	boom := errors.New("boom")
	if err := StopHTTPServer(fakeServer{err: boom})(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Expected wrapped boom, got %v", err)
	}
}
