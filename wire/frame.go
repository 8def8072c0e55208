package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrCorruptFrame means a frame's declared size and the bytes actually
// available disagree. A partial frame is unrecoverable ambiguity: the caller
// must tear down the connection, there is no way to resynchronize the stream.
var ErrCorruptFrame = errors.New("corrupt frame")

// MaxFrameSize bounds how large a single response frame may be. Frames
// declaring a larger size are treated as corrupt (a garbage size prefix would
// otherwise make the client attempt a huge allocation).
var MaxFrameSize = int32(128 << 20)

// WriteFrame writes b prefixed with its size as an int32.
func WriteFrame(w io.Writer, b []byte) error {
	if err := binary.Write(w, ord, int32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadFrame reads one size-prefixed frame. An undersized, negative, or
// oversized declared size, or a stream that ends before the declared size is
// read, returns an error wrapping ErrCorruptFrame. Every frame carries at
// least a correlation id, so anything under 4 bytes is garbage.
func ReadFrame(r io.Reader) ([]byte, error) {
	var size int32
	if err := binary.Read(r, ord, &size); err != nil {
		return nil, err
	}
	if size < 4 || size > MaxFrameSize {
		return nil, fmt.Errorf("%w: declared size %d", ErrCorruptFrame, size)
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("%w: %d byte frame truncated: %v", ErrCorruptFrame, size, err)
	}
	return b, nil
}
