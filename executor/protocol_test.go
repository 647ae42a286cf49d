package executor

import (
	"errors"
	"strings"
	"testing"
)

func TestExtractFrame(t *testing.T) {
	tests := []struct {
		name          string
		content       string
		idx           int
		eof           bool
		wantPayload   string
		wantRemaining string
		wantStatus    frameStatus
	}{
		{
			name:          "complete frame",
			content:       "prefix" + resultPrefix + `v{"a":1}` + resultSuffix + "suffix",
			idx:           6,
			wantPayload:   `v{"a":1}`,
			wantRemaining: "suffix",
			wantStatus:    frameComplete,
		},
		{
			name:          "incomplete frame",
			content:       "prefix" + resultPrefix + "v[1,",
			idx:           6,
			wantRemaining: resultPrefix + "v[1,",
			wantStatus:    framePending,
		},
		{
			name:          "empty payload",
			content:       resultPrefix + resultSuffix + "rest",
			idx:           0,
			wantPayload:   "",
			wantRemaining: "rest",
			wantStatus:    frameComplete,
		},
		{
			name:          "terminator opens another frame",
			content:       resultPrefix + "junk\n" + resultPrefix + "v1" + resultSuffix,
			idx:           0,
			wantPayload:   resultPrefix + "junk\n",
			wantRemaining: resultPrefix + "v1" + resultSuffix,
			wantStatus:    frameUnclosed,
		},
		{
			name:          "terminator may still become a prefix",
			content:       resultPrefix + "v1" + resultSuffix + "EVAL",
			idx:           0,
			wantRemaining: resultPrefix + "v1" + resultSuffix + "EVAL",
			wantStatus:    framePending,
		},
		{
			name:          "terminator settles at eof",
			content:       resultPrefix + "v1" + resultSuffix + "EVAL",
			idx:           0,
			eof:           true,
			wantPayload:   "v1",
			wantRemaining: "EVAL",
			wantStatus:    frameComplete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, remaining, status := extractFrame(tt.content, tt.idx, tt.eof)
			if payload != tt.wantPayload {
				t.Errorf("payload = %q, want %q", payload, tt.wantPayload)
			}
			if remaining != tt.wantRemaining {
				t.Errorf("remaining = %q, want %q", remaining, tt.wantRemaining)
			}
			if status != tt.wantStatus {
				t.Errorf("status = %v, want %v", status, tt.wantStatus)
			}
		})
	}
}

func TestFrameHandlerSplitWrites(t *testing.T) {
	out := newOutputBuffer(1 << 10)
	h := newFrameHandler(out, 1<<10)

	// The prefix itself is split across writes.
	stream := "before\n" + resultPrefix + "v[1, 2]" + resultSuffix + "after\n"
	for _, chunk := range []string{stream[:9], stream[9:15], stream[15:30], stream[30:]} {
		if _, err := h.Write([]byte(chunk)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	h.Flush()

	env, ok := h.Envelope()
	if !ok {
		t.Fatal("no envelope found")
	}
	if string(env) != "v[1, 2]" {
		t.Errorf("envelope = %q", env)
	}
	if out.String() != "before\nafter\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestFrameHandlerKeepsLastFrame(t *testing.T) {
	tests := []struct {
		name       string
		stream     string
		wantEnv    string
		wantOutput string
	}{
		{
			name:    "two frames",
			stream:  resultPrefix + "v1" + resultSuffix + resultPrefix + "v2" + resultSuffix,
			wantEnv: "v2",
		},
		{
			name:       "unclosed frame before the real one",
			stream:     resultPrefix + "junk\n" + resultPrefix + "v1" + resultSuffix,
			wantEnv:    "v1",
			wantOutput: resultPrefix + "junk\n",
		},
		{
			name:    "value then error",
			stream:  resultPrefix + "v99" + resultSuffix + resultPrefix + "eZeroDivisionError: division by zero" + resultSuffix,
			wantEnv: "eZeroDivisionError: division by zero",
		},
		{
			name:       "output between frames",
			stream:     "a" + resultPrefix + "v1" + resultSuffix + "b" + resultPrefix + "v2" + resultSuffix + "c",
			wantEnv:    "v2",
			wantOutput: "abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := newOutputBuffer(1 << 10)
			h := newFrameHandler(out, 1<<10)
			// Byte at a time so every split point is exercised.
			for i := 0; i < len(tt.stream); i++ {
				h.Write([]byte{tt.stream[i]})
			}
			h.Flush()

			env, ok := h.Envelope()
			if !ok {
				t.Fatal("no envelope found")
			}
			if string(env) != tt.wantEnv {
				t.Errorf("envelope = %q, want %q", env, tt.wantEnv)
			}
			if out.String() != tt.wantOutput {
				t.Errorf("output = %q, want %q", out.String(), tt.wantOutput)
			}
		})
	}
}

func TestFrameHandlerOverflow(t *testing.T) {
	out := newOutputBuffer(1 << 10)
	h := newFrameHandler(out, 8)
	h.Write([]byte(resultPrefix + strings.Repeat("x", 64)))

	if !h.Overflowed() {
		t.Error("expected overflow for unterminated frame")
	}
	if _, ok := h.Envelope(); ok {
		t.Error("unterminated frame must not become an envelope")
	}
}

func TestFrameHandlerOverflowClearedByLaterFrame(t *testing.T) {
	out := newOutputBuffer(1 << 10)
	h := newFrameHandler(out, 32)
	h.Write([]byte(resultPrefix + strings.Repeat("x", 64)))
	h.Write([]byte(resultPrefix + "v1" + resultSuffix))
	h.Flush()

	if h.Overflowed() {
		t.Error("complete frame should clear the overflow")
	}
	env, ok := h.Envelope()
	if !ok || string(env) != "v1" {
		t.Errorf("envelope = %q, %v", env, ok)
	}
}

func TestFrameHandlerDropsUnterminatedFrame(t *testing.T) {
	out := newOutputBuffer(1 << 10)
	h := newFrameHandler(out, 1<<10)
	h.Write([]byte("x" + resultPrefix + "v1" + resultSuffix + resultPrefix + "v2"))
	h.Flush()

	env, _ := h.Envelope()
	if string(env) != "v1" {
		t.Errorf("envelope = %q, want %q", env, "v1")
	}
	if out.String() != "x" {
		t.Errorf("output = %q", out.String())
	}
}

func TestFrameHandlerFlushesTrailingNul(t *testing.T) {
	out := newOutputBuffer(1 << 10)
	h := newFrameHandler(out, 1<<10)
	h.Write([]byte("tail\x00"))
	h.Flush()

	if out.String() != "tail\x00" {
		t.Errorf("output = %q", out.String())
	}
}

func TestOutputBufferTruncates(t *testing.T) {
	out := newOutputBuffer(5)
	out.Write([]byte("abc"))
	out.Write([]byte("defg"))
	out.Write([]byte("h"))

	if out.String() != "abcde" {
		t.Errorf("output = %q, want %q", out.String(), "abcde")
	}
	if !out.Truncated() {
		t.Error("expected truncated")
	}
}

func TestOutputBufferExactFit(t *testing.T) {
	out := newOutputBuffer(3)
	out.Write([]byte("abc"))
	out.Write(nil)
	if out.Truncated() {
		t.Error("exact fit must not be truncated")
	}
}

func TestSplitGuestError(t *testing.T) {
	tests := []struct {
		text     string
		wantType string
	}{
		{"ZeroDivisionError: division by zero", "ZeroDivisionError"},
		{"KeyboardInterrupt", "KeyboardInterrupt"},
		{"json.decoder.JSONDecodeError: Expecting value", "json.decoder.JSONDecodeError"},
		{"something broke: badly", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			typ, msg := splitGuestError(tt.text)
			if typ != tt.wantType {
				t.Errorf("type = %q, want %q", typ, tt.wantType)
			}
			if msg != tt.text {
				t.Errorf("message = %q, want %q", msg, tt.text)
			}
		})
	}
}

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		env      string
		wantErr  any
		wantKind Kind
	}{
		{name: "value", env: "v[1]", wantKind: KindList},
		{name: "runtime error", env: "eValueError: bad", wantErr: &GuestError{}},
		{name: "unsupported", env: "uset", wantErr: &GuestError{}},
		{name: "memory", env: "mMemoryError", wantErr: &ResourceExceededError{}},
		{name: "empty", env: "", wantErr: &HostFault{}},
		{name: "bad tag", env: "?", wantErr: &HostFault{}},
		{name: "bad json", env: "v[", wantErr: &HostFault{}},
		{name: "float overflow", env: "v1e999", wantErr: &GuestError{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := decodeEnvelope([]byte(tt.env))
			switch want := tt.wantErr.(type) {
			case nil:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if v.Kind() != tt.wantKind {
					t.Errorf("kind = %v, want %v", v.Kind(), tt.wantKind)
				}
			case *GuestError:
				if !errors.As(err, &want) {
					t.Errorf("err = %v, want GuestError", err)
				}
			case *HostFault:
				if !errors.As(err, &want) {
					t.Errorf("err = %v, want HostFault", err)
				}
			case *ResourceExceededError:
				if !errors.As(err, &want) || want.Kind != ResourceMemory {
					t.Errorf("err = %v, want memory ResourceExceededError", err)
				}
			}
		})
	}
}

func TestDecodeEnvelopeInvalidUTF8(t *testing.T) {
	_, err := decodeEnvelope([]byte("eError: \xff\xfe"))
	var ge *GuestError
	if !errors.As(err, &ge) {
		t.Fatalf("err = %v, want GuestError", err)
	}
	if !strings.Contains(ge.Message, "�") {
		t.Errorf("message = %q, want replacement character", ge.Message)
	}
}
