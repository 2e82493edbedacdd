package metrics

import (
	"sync/atomic"
	"time"
)

// ClientMetric is a point-in-time copy of a client's counters.
type ClientMetric struct {
	Connects      int
	Reconnects    int
	Disconnects   int
	FramesSent    int
	SendRetries   int
	FramesDropped int
	MovesAccepted int
	MovesRejected int
	Timeouts      int
	Uptime        time.Duration
}

type Collector interface {
	Start()
	AddConnect()
	AddReconnect()
	AddDisconnect()
	AddFrameSent()
	AddSendRetry()
	AddFrameDropped()
	AddMoveAccepted()
	AddMoveRejected()
	AddTimeout()
	Snapshot() ClientMetric
}

type collector struct {
	startTime     time.Time
	connects      atomic.Int32
	reconnects    atomic.Int32
	disconnects   atomic.Int32
	framesSent    atomic.Int32
	sendRetries   atomic.Int32
	framesDropped atomic.Int32
	movesAccepted atomic.Int32
	movesRejected atomic.Int32
	timeouts      atomic.Int32
}

func NewCollector() Collector {
	return &collector{startTime: time.Now()}
}

func (m *collector) Start() {
	m.startTime = time.Now()
}

func (m *collector) AddConnect()      { m.connects.Add(1) }
func (m *collector) AddReconnect()    { m.reconnects.Add(1) }
func (m *collector) AddDisconnect()   { m.disconnects.Add(1) }
func (m *collector) AddFrameSent()    { m.framesSent.Add(1) }
func (m *collector) AddSendRetry()    { m.sendRetries.Add(1) }
func (m *collector) AddFrameDropped() { m.framesDropped.Add(1) }
func (m *collector) AddMoveAccepted() { m.movesAccepted.Add(1) }
func (m *collector) AddMoveRejected() { m.movesRejected.Add(1) }
func (m *collector) AddTimeout()      { m.timeouts.Add(1) }

func (m *collector) Snapshot() ClientMetric {
	return ClientMetric{
		Connects:      int(m.connects.Load()),
		Reconnects:    int(m.reconnects.Load()),
		Disconnects:   int(m.disconnects.Load()),
		FramesSent:    int(m.framesSent.Load()),
		SendRetries:   int(m.sendRetries.Load()),
		FramesDropped: int(m.framesDropped.Load()),
		MovesAccepted: int(m.movesAccepted.Load()),
		MovesRejected: int(m.movesRejected.Load()),
		Timeouts:      int(m.timeouts.Load()),
		Uptime:        time.Since(m.startTime),
	}
}

type dummyCollector struct{}

func NewDummyCollector() Collector {
	return &dummyCollector{}
}

func (m *dummyCollector) Start()                 {}
func (m *dummyCollector) AddConnect()            {}
func (m *dummyCollector) AddReconnect()          {}
func (m *dummyCollector) AddDisconnect()         {}
func (m *dummyCollector) AddFrameSent()          {}
func (m *dummyCollector) AddSendRetry()          {}
func (m *dummyCollector) AddFrameDropped()       {}
func (m *dummyCollector) AddMoveAccepted()       {}
func (m *dummyCollector) AddMoveRejected()       {}
func (m *dummyCollector) AddTimeout()            {}
func (m *dummyCollector) Snapshot() ClientMetric { return ClientMetric{} }
