package transport

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// STOMP 1.2 commands used by this client.
const (
	CommandConnect     = "CONNECT"
	CommandConnected   = "CONNECTED"
	CommandSubscribe   = "SUBSCRIBE"
	CommandUnsubscribe = "UNSUBSCRIBE"
	CommandSend        = "SEND"
	CommandMessage     = "MESSAGE"
	CommandError       = "ERROR"
	CommandDisconnect  = "DISCONNECT"
)

var (
	ErrMalformedFrame = errors.New("transport: malformed stomp frame")

	// heartbeat is a bare EOL, not a frame.
	heartbeatPayload = []byte("\n")
)

// Frame is a single STOMP frame.
type Frame struct {
	Command string
	Headers map[string]string
	Body    []byte
}

// NewFrame builds a frame with an initialized header map.
func NewFrame(command string) Frame {
	return Frame{Command: command, Headers: map[string]string{}}
}

// IsHeartbeat reports whether raw is a STOMP heartbeat rather than a frame.
func IsHeartbeat(raw []byte) bool {
	return len(bytes.TrimRight(raw, "\r\n")) == 0
}

// Marshal serializes the frame: command line, header lines, blank line, body,
// NUL terminator. Header keys are emitted in sorted order so output is
// deterministic.
func (f Frame) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')

	keys := make([]string, 0, len(f.Headers))
	for k := range f.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf.WriteString(escapeHeader(k))
		buf.WriteByte(':')
		buf.WriteString(escapeHeader(f.Headers[k]))
		buf.WriteByte('\n')
	}
	if len(f.Body) > 0 {
		fmt.Fprintf(&buf, "content-length:%d\n", len(f.Body))
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// UnmarshalFrame parses a single frame from raw bytes. The NUL terminator is
// required; anything after it is ignored.
func UnmarshalFrame(raw []byte) (Frame, error) {
	end := bytes.IndexByte(raw, 0)
	if end < 0 {
		return Frame{}, fmt.Errorf("%w: missing terminator", ErrMalformedFrame)
	}
	raw = raw[:end]

	// The blank line ending the headers may use either EOL form; take the
	// earlier match so a body containing blank lines cannot shadow it.
	headerEnd := bytes.Index(raw, []byte("\n\n"))
	bodyStart := headerEnd + 2
	if crlf := bytes.Index(raw, []byte("\r\n\r\n")); crlf >= 0 && (headerEnd < 0 || crlf < headerEnd) {
		headerEnd = crlf
		bodyStart = crlf + 4
	}
	if headerEnd < 0 {
		return Frame{}, fmt.Errorf("%w: missing header terminator", ErrMalformedFrame)
	}
	head := strings.Split(strings.ReplaceAll(string(raw[:headerEnd]), "\r\n", "\n"), "\n")
	if len(head) == 0 || head[0] == "" {
		return Frame{}, fmt.Errorf("%w: empty command", ErrMalformedFrame)
	}

	frame := NewFrame(head[0])
	for _, line := range head[1:] {
		if line == "" {
			continue
		}
		sep := strings.Index(line, ":")
		if sep < 0 {
			return Frame{}, fmt.Errorf("%w: header %q", ErrMalformedFrame, line)
		}
		key := unescapeHeader(line[:sep])
		// Repeated headers: first occurrence wins per STOMP 1.2.
		if _, ok := frame.Headers[key]; !ok {
			frame.Headers[key] = unescapeHeader(line[sep+1:])
		}
	}
	frame.Body = append([]byte(nil), raw[bodyStart:]...)
	return frame, nil
}

func escapeHeader(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, "\r", `\r`, "\n", `\n`, ":", `\c`)
	return replacer.Replace(value)
}

func unescapeHeader(value string) string {
	var out strings.Builder
	for i := 0; i < len(value); i++ {
		if value[i] != '\\' || i+1 == len(value) {
			out.WriteByte(value[i])
			continue
		}
		i++
		switch value[i] {
		case 'r':
			out.WriteByte('\r')
		case 'n':
			out.WriteByte('\n')
		case 'c':
			out.WriteByte(':')
		case '\\':
			out.WriteByte('\\')
		default:
			out.WriteByte('\\')
			out.WriteByte(value[i])
		}
	}
	return out.String()
}
