package communication

import "context"

// Communicator is the persistent transport the engine drives. Implementations deliver
// inbound frames to a Handler in arrival order from a single goroutine.
type Communicator interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, data []byte) error
	// ReceivedPong tells the transport its heartbeat was answered.
	ReceivedPong()
	Connected() bool
	Disconnect()
	Destroy()
}

// Handler receives transport events.
type Handler interface {
	HandleOpen()
	HandleMessage(data []byte)
	// HandleClose is called once per lost connection. err is nil for an intentional close.
	HandleClose(err error)
}
