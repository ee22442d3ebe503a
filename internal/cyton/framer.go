package cyton

// maxBuffered caps the accumulation buffer when the stream carries no
// markers at all. Only the last FrameSize-1 bytes can still begin a frame.
const maxBuffered = 4096

// Framer accumulates raw bytes and extracts candidate frames. It does not
// validate frame contents: a data byte equal to FrameMarker yields a
// false-positive frame that the pairing logic later discards.
type Framer struct {
	buf []byte
}

// Write appends raw bytes to the buffer. It never fails.
func (f *Framer) Write(p []byte) (int, error) {
	f.buf = append(f.buf, p...)
	return len(p), nil
}

// Frames returns every complete 32-byte frame that starts with FrameMarker,
// in buffer order, and drops the bytes up to the end of the last one.
// Markers inside an extracted frame are scanned too.
func (f *Framer) Frames() [][]byte {
	var frames [][]byte
	purge := 0
	for i := 0; i+FrameSize <= len(f.buf); i++ {
		if f.buf[i] != FrameMarker {
			continue
		}
		frame := make([]byte, FrameSize)
		copy(frame, f.buf[i:i+FrameSize])
		frames = append(frames, frame)
		purge = i + FrameSize
	}

	if len(f.buf)-purge > maxBuffered {
		purge = len(f.buf) - (FrameSize - 1)
	}
	if purge > 0 {
		f.buf = append(f.buf[:0], f.buf[purge:]...)
	}
	return frames
}

// Buffered returns the number of bytes waiting for more input.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Reset discards all buffered bytes.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}
