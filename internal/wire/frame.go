package wire

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadFrame reads one length-prefixed message: a decimal byte length, a
// newline, then that many bytes of payload (spec.md §6).
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	lengthLine, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("wire: read frame length: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(lengthLine))
	if err != nil {
		return nil, fmt.Errorf("wire: invalid frame length %q: %w", lengthLine, err)
	}
	if n < 0 {
		return nil, fmt.Errorf("wire: negative frame length %d", n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: read frame payload: %w", err)
	}
	return payload, nil
}

// WriteFrame writes payload using the same length-prefixed framing.
func WriteFrame(w io.Writer, payload []byte) error {
	if _, err := fmt.Fprintf(w, "%d\n", len(payload)); err != nil {
		return fmt.Errorf("wire: write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write frame payload: %w", err)
	}
	return nil
}
