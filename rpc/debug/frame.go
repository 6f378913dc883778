package debug

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

const (
	// MaxHeaderLine bounds one header line of a frame.
	MaxHeaderLine = 4 << 10
	// MaxBodySize bounds the body of a frame.
	MaxBodySize = 64 << 20
)

var (
	ErrMissingLength = errors.New("frame without Content-Length header")
	ErrInvalidHeader = errors.New("invalid frame header")
)

// --------------------------------------------------------------------------
// Framing: Content-Length: <n>\r\n\r\n<body>
// --------------------------------------------------------------------------

// ReadFrame reads one frame and returns its body. The header ends at the first
// empty line. Header lines other than Content-Length are ignored. io.EOF is
// returned unchanged if the stream ends before a frame starts.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	length := -1
	lines := 0

	for {
		line, err := readLine(r)
		if err != nil {
			if errors.Is(err, io.EOF) && lines == 0 && len(line) == 0 {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read frame header: %w", err)
		}
		lines++
		if len(line) == 0 {
			break
		}

		name, value, ok := bytes.Cut(line, []byte(":"))
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidHeader, line)
		}
		if !bytes.EqualFold(bytes.TrimSpace(name), []byte("Content-Length")) {
			continue
		}
		n, err := strconv.Atoi(string(bytes.TrimSpace(value)))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: content length %q", ErrInvalidHeader, bytes.TrimSpace(value))
		}
		if n > MaxBodySize {
			return nil, fmt.Errorf("%w: content length %d exceeds %d", ErrInvalidHeader, n, MaxBodySize)
		}
		length = n
	}

	if length < 0 {
		return nil, ErrMissingLength
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return body, nil
}

// readLine returns one header line without its \r\n terminator. A bare \n is
// accepted as terminator as well.
func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > MaxHeaderLine {
			return nil, fmt.Errorf("%w: header line longer than %d bytes", ErrInvalidHeader, MaxHeaderLine)
		}
		if err == nil {
			break
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			if errors.Is(err, io.EOF) && len(line) > 0 {
				return line, io.ErrUnexpectedEOF
			}
			return line, err
		}
	}
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r")), nil
}

// WriteFrame writes body as one frame.
func WriteFrame(w io.Writer, body []byte) error {
	header := "Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n"
	if _, err := io.WriteString(w, header); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}
