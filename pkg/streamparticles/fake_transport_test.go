package streamparticles

import (
	"context"
	"encoding/json"
	"sync"
)

type handlerFunc = func(json.RawMessage)

type emitted struct {
	event   string
	payload any
}

// fakeTransport simulates the realtime gateway in memory
type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string][]handlerFunc
	emitted  []emitted
	opens    int
	closes   int
	open     bool
	openErr  error
	emitErr  error

	// onOpen and onEmit script the remote side; nil means the remote stays silent
	onOpen func(f *fakeTransport)
	onEmit func(f *fakeTransport, event string, payload any)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string][]handlerFunc)}
}

// newAuthenticatingTransport connects on Open and acknowledges credentials
func newAuthenticatingTransport() *fakeTransport {
	f := newFakeTransport()
	f.onOpen = func(f *fakeTransport) { f.fire("connect", nil) }
	f.onEmit = func(f *fakeTransport, event string, _ any) {
		if event == EventAuthentication {
			f.fire(EventAuthenticated, nil)
		}
	}
	return f
}

func (f *fakeTransport) On(event string, handler func(data json.RawMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], handler)
}

func (f *fakeTransport) Emit(event string, payload any) error {
	f.mu.Lock()
	f.emitted = append(f.emitted, emitted{event, payload})
	onEmit := f.onEmit
	emitErr := f.emitErr
	f.mu.Unlock()

	if emitErr != nil {
		return emitErr
	}
	if onEmit != nil {
		onEmit(f, event, payload)
	}
	return nil
}

func (f *fakeTransport) Open(ctx context.Context) error {
	f.mu.Lock()
	f.opens++
	if f.openErr != nil {
		f.mu.Unlock()
		return f.openErr
	}
	f.open = true
	onOpen := f.onOpen
	f.mu.Unlock()

	if onOpen != nil {
		onOpen(f)
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closes++
	wasOpen := f.open
	f.open = false
	f.mu.Unlock()

	if wasOpen {
		f.fire("disconnect", json.RawMessage(`"io client disconnect"`))
	}
	return nil
}

// dropRemote simulates the network or the server ending the connection
func (f *fakeTransport) dropRemote() {
	f.mu.Lock()
	f.open = false
	f.mu.Unlock()
	f.fire("disconnect", json.RawMessage(`"transport close"`))
}

func (f *fakeTransport) fire(event string, data json.RawMessage) {
	f.mu.Lock()
	handlers := append([]handlerFunc(nil), f.handlers[event]...)
	f.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
}

func (f *fakeTransport) handlerCount(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers[event])
}

func (f *fakeTransport) emittedEvents() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.emitted...)
}

func (f *fakeTransport) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeTransport) isOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}
