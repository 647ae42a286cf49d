package executor

import (
	"bytes"
	"strings"
	"sync"
	"unicode/utf8"
)

// Protocol constants - used by command guests to hand the envelope to the host.
// Format: \x00EVALBOX_RESULT:<tag><payload>\x00
const (
	resultPrefix = "\x00EVALBOX_RESULT:"
	resultSuffix = "\x00"

	// maxEnvelopeSize bounds a result frame that is still being written.
	maxEnvelopeSize = 64 << 20
)

// Envelope tags.
const (
	tagValue       = 'v'
	tagError       = 'e'
	tagUnsupported = 'u'
	// tagMemory reports an allocation the guest language refused, such as
	// Python's MemoryError, before it ever asked to grow memory.
	tagMemory = 'm'
)

// decodeEnvelope turns the guest's tagged result into a Value or one of the
// typed errors. A broken envelope is a HostFault: the program cannot produce
// one, only a broken guest build can.
func decodeEnvelope(env []byte) (Value, error) {
	if len(env) == 0 {
		return Value{}, hostFault(nil, "empty result envelope")
	}

	payload := env[1:]
	switch env[0] {
	case tagValue:
		v, err := decodeValue(payload)
		switch err {
		case nil:
			return v, nil
		case errValueTooDeep, errValueTooLarge, errValueUnrepresentable:
			return Value{}, &GuestError{Category: CategoryUnsupported, Message: err.Error()}
		default:
			return Value{}, hostFault(err, "decode value payload")
		}
	case tagError:
		typ, msg := splitGuestError(guestText(payload))
		return Value{}, &GuestError{Category: CategoryRuntime, Type: typ, Message: msg}
	case tagUnsupported:
		return Value{}, &GuestError{Category: CategoryUnsupported, Message: guestText(payload)}
	case tagMemory:
		// The governor fills in the budget.
		return Value{}, &ResourceExceededError{Kind: ResourceMemory}
	default:
		return Value{}, hostFault(nil, "unknown result tag %q", env[0])
	}
}

// splitGuestError separates "ZeroDivisionError: division by zero" into its
// type and the full message. A bare identifier is treated as a type.
func splitGuestError(text string) (typ, msg string) {
	head, _, found := strings.Cut(text, ":")
	if !found {
		head = text
	}
	if isIdentifier(head) {
		typ = head
	}
	return typ, text
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '.' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func guestText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "�")
}

type frameStatus int

const (
	framePending frameStatus = iota
	frameComplete
	// frameUnclosed: the terminator is the start of another prefix.
	frameUnclosed
)

// extractFrame inspects the frame starting at idx. For a complete frame it
// returns the payload and the content after the terminator. For an unclosed
// frame it returns the abandoned bytes and the content from the next prefix
// on. While the frame may still grow, remaining is the frame itself. At eof
// a terminator can no longer turn into a prefix.
func extractFrame(content string, idx int, eof bool) (payload, remaining string, status frameStatus) {
	afterPrefix := content[idx+len(resultPrefix):]
	endIdx := strings.Index(afterPrefix, resultSuffix)
	if endIdx == -1 {
		return "", content[idx:], framePending
	}
	rest := afterPrefix[endIdx:]
	if strings.HasPrefix(rest, resultPrefix) {
		return content[idx : len(content)-len(rest)], rest, frameUnclosed
	}
	if !eof && len(rest) < len(resultPrefix) && strings.HasPrefix(resultPrefix, rest) {
		return "", content[idx:], framePending
	}
	return afterPrefix[:endIdx], rest[len(resultSuffix):], frameComplete
}

// outputBuffer keeps at most limit bytes of guest output and remembers that
// the rest was dropped.
type outputBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newOutputBuffer(limit int) *outputBuffer {
	return &outputBuffer{limit: limit}
}

func (o *outputBuffer) Write(data []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.write(data)
	return len(data), nil
}

func (o *outputBuffer) WriteString(s string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.write([]byte(s))
}

func (o *outputBuffer) write(data []byte) {
	room := o.limit - o.buf.Len()
	if room <= 0 {
		if len(data) > 0 {
			o.truncated = true
		}
		return
	}
	if len(data) > room {
		data = data[:room]
		o.truncated = true
	}
	o.buf.Write(data)
}

func (o *outputBuffer) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.String()
}

func (o *outputBuffer) Truncated() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.truncated
}

// frameHandler intercepts a command guest's stdout. Regular output passes
// through to the output buffer; the last complete result frame is kept as
// the envelope, since the guest's own code runs before the result is
// written.
type frameHandler struct {
	output   *outputBuffer
	buf      bytes.Buffer
	envelope []byte
	found    bool
	// maxPending bounds a frame that never terminates.
	maxPending int
	overflow   bool
	mu         sync.Mutex
}

func newFrameHandler(output *outputBuffer, maxPending int) *frameHandler {
	return &frameHandler{output: output, maxPending: maxPending}
}

func (p *frameHandler) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf.Write(data)
	p.drain(false)
	return len(data), nil
}

func (p *frameHandler) drain(eof bool) {
	for {
		content := p.buf.String()
		startIdx := strings.Index(content, resultPrefix)
		if startIdx == -1 {
			// Keep a possible partial prefix at the tail for the next write.
			keep := 0
			if !eof {
				keep = partialPrefixLen(content)
			}
			p.output.WriteString(content[:len(content)-keep])
			p.buf.Reset()
			p.buf.WriteString(content[len(content)-keep:])
			return
		}

		p.output.WriteString(content[:startIdx])

		payload, remaining, status := extractFrame(content, startIdx, eof)
		p.buf.Reset()
		switch status {
		case framePending:
			if len(remaining) > p.maxPending {
				p.overflow = true
				return
			}
			if !eof {
				p.buf.WriteString(remaining)
			}
			return
		case frameUnclosed:
			p.output.WriteString(payload)
		case frameComplete:
			p.envelope = []byte(payload)
			p.found = true
			p.overflow = false
		}
		p.buf.WriteString(remaining)
	}
}

// Flush settles bytes held back at the end of the stream. An unterminated
// frame is dropped.
func (p *frameHandler) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drain(true)
	p.buf.Reset()
}

// Envelope returns the last complete result frame.
func (p *frameHandler) Envelope() ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.envelope, p.found
}

// Overflowed reports an unterminated frame larger than maxPending.
func (p *frameHandler) Overflowed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overflow
}

// partialPrefixLen is the length of the longest suffix of s that is a proper
// prefix of resultPrefix.
func partialPrefixLen(s string) int {
	n := len(resultPrefix) - 1
	if n > len(s) {
		n = len(s)
	}
	for ; n > 0; n-- {
		if strings.HasSuffix(s, resultPrefix[:n]) {
			return n
		}
	}
	return 0
}
