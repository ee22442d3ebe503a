package cyton

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testPacket builds a packet whose channel values encode the sample number,
// with alternating signs.
func testPacket(sample byte) *Packet {
	p := &Packet{
		Counter:      FrameMarker,
		SampleNumber: sample,
		AccX:         uint16(sample) * 3,
		AccY:         uint16(sample)*3 + 1,
		AccZ:         uint16(sample)*3 + 2,
	}
	for i := range p.Channels {
		v := int32(sample)*100 + int32(i) + 1
		if i%2 == 1 {
			v = -v
		}
		p.Channels[i] = v
	}
	return p
}

// testFrame encodes sample into a frame and checks that the marker only
// appears in the first byte, so the frame cannot produce false positives.
func testFrame(t *testing.T, sample byte) []byte {
	t.Helper()
	frame := EncodeFrame(testPacket(sample))
	require.Len(t, frame, FrameSize)
	require.Equal(t, -1, bytes.IndexByte(frame[1:], FrameMarker), "fixture frame for sample %d contains a marker byte", sample)
	return frame
}

func testStream(t *testing.T, samples ...byte) []byte {
	t.Helper()
	var buf []byte
	for _, s := range samples {
		buf = append(buf, testFrame(t, s)...)
	}
	return buf
}

// scriptedPort is a Transport that answers known commands with canned
// responses and simulates a read timeout when it has nothing to return.
type scriptedPort struct {
	mu        sync.Mutex
	readBuf   bytes.Buffer
	written   bytes.Buffer
	responses map[string]string
	readErr   error
	writeErr  error
	closed    bool
}

func newScriptedPort() *scriptedPort {
	return &scriptedPort{responses: make(map[string]string)}
}

func (p *scriptedPort) respond(command []byte, response string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses[string(command)] = response
}

func (p *scriptedPort) feed(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readBuf.Write(data)
}

func (p *scriptedPort) failReads(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if p.readBuf.Len() > 0 {
		defer p.mu.Unlock()
		return p.readBuf.Read(b)
	}
	if p.readErr != nil {
		defer p.mu.Unlock()
		return 0, p.readErr
	}
	p.mu.Unlock()
	time.Sleep(time.Millisecond)
	return 0, nil
}

func (p *scriptedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.written.Write(b)
	if resp, ok := p.responses[string(b)]; ok {
		p.readBuf.WriteString(resp)
	}
	return len(b), nil
}

func (p *scriptedPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *scriptedPort) writtenData() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written.Bytes()...)
}

func (p *scriptedPort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
