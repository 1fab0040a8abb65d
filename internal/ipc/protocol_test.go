package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"henkan/internal/session"
)

func TestMessageRoundTrip(t *testing.T) {
	for _, enc := range []Encoding{EncodingMsgpack, EncodingJSON} {
		t.Run(string(enc), func(t *testing.T) {
			req := &SendKeyRequest{Key: session.KeyEvent{KeyCode: 'a', Modifiers: session.ModShift, KeyString: "ち"}}
			data, flags, err := Encode(enc, req)
			require.NoError(t, err)

			var buf bytes.Buffer
			require.NoError(t, NewMessage(MsgSendKey, 42, flags, data).Write(&buf))
			assert.Equal(t, HeaderSize+len(data), buf.Len())

			msg, err := ReadMessage(&buf)
			require.NoError(t, err)
			assert.Equal(t, MsgSendKey, msg.Header.Type)
			assert.Equal(t, uint32(42), msg.Header.RequestID)
			assert.Equal(t, enc, encodingOf(msg))

			var got SendKeyRequest
			require.NoError(t, Decode(msg, &got))
			assert.Equal(t, *req, got)
		})
	}
}

func TestOutputSurvivesEncoding(t *testing.T) {
	out := &session.Output{
		Consumed: true,
		Result:   &session.Result{Value: "私", Key: "わたし"},
		Preedit: &session.Preedit{
			Segments: []session.Segment{session.NewSegment("わたし", session.AnnotationUnderline)},
			Cursor:   session.Ptr(3),
		},
		Candidates: &session.Candidates{
			Size:         2,
			FocusedIndex: session.Ptr(0),
			Candidates: []session.Candidate{
				{Index: 0, Value: "私", ID: session.Ptr(int32(0)), Annotation: &session.CandidateAnnotation{Shortcut: "1"}},
				{Index: 1, Value: "渡し", ID: session.Ptr(int32(1))},
			},
		},
		Mode: session.Ptr(session.ModeHiragana),
	}

	for _, enc := range []Encoding{EncodingMsgpack, EncodingJSON} {
		t.Run(string(enc), func(t *testing.T) {
			data, flags, err := Encode(enc, &OutputResponse{Output: out})
			require.NoError(t, err)

			var got OutputResponse
			require.NoError(t, Decode(NewMessage(MsgSendKeyResp, 1, flags, data), &got))
			assert.Equal(t, out, got.Output)
		})
	}
}

func TestReadHeaderErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(b []byte)
	}{
		{"bad magic", func(b []byte) { binary.BigEndian.PutUint32(b[0:4], 0xdeadbeef) }},
		{"future version", func(b []byte) { b[4] = ProtocolVersion + 1 }},
		{"oversized payload", func(b []byte) { binary.BigEndian.PutUint32(b[12:16], MaxPayload+1) }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewMessage(MsgPing, 1, 0, nil).Header
			b := h.marshal()
			tc.mutate(b)
			_, err := ReadMessage(bytes.NewReader(b))
			assert.ErrorIs(t, err, ErrProtocol)
		})
	}
}

func TestReadMessageTruncated(t *testing.T) {
	data, flags, err := Encode(EncodingJSON, &LaunchToolRequest{Name: "config_dialog"})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, NewMessage(MsgLaunchTool, 1, flags, data).Write(&buf))

	_, err = ReadMessage(bytes.NewReader(buf.Bytes()[:buf.Len()-2]))
	assert.Error(t, err)
}

func TestDecodeGarbage(t *testing.T) {
	var req SendCommandRequest
	err := Decode(NewMessage(MsgSendCommand, 1, FlagJSON, []byte("{not json")), &req)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestParseEncoding(t *testing.T) {
	for in, want := range map[string]Encoding{"": EncodingMsgpack, "msgpack": EncodingMsgpack, "json": EncodingJSON} {
		got, err := ParseEncoding(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseEncoding("protobuf")
	assert.Error(t, err)
}

func TestMessageTypeString(t *testing.T) {
	assert.Equal(t, "send_key", MsgSendKey.String())
	assert.Equal(t, "0x0999", MessageType(0x999).String())
}

func TestErrorCodeMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
		is   error
	}{
		{fmt.Errorf("x: %w", session.ErrToolNotFound), ErrCodeToolNotFound, session.ErrToolNotFound},
		{session.ErrClosed, ErrCodeClosed, session.ErrClosed},
		{&session.FieldError{Field: "page_size", Err: session.ErrOutOfRange}, ErrCodeInvalidConfig, session.ErrTypeMismatch},
		{errors.New("disk full"), ErrCodeInternal, nil},
	}

	for _, tc := range tests {
		t.Run(tc.err.Error(), func(t *testing.T) {
			code := errorCode(tc.err)
			assert.Equal(t, tc.code, code)

			remote := &RemoteError{Code: code, Message: tc.err.Error()}
			if tc.is != nil {
				assert.ErrorIs(t, remote, tc.is)
			} else {
				assert.Nil(t, remote.Unwrap())
			}
		})
	}
}

func TestNewErrorMessageUsesRequestEncoding(t *testing.T) {
	req := NewMessage(MsgSyncData, 9, FlagJSON, nil)
	msg := NewErrorMessage(req, ErrCodeInternal, "boom")
	assert.Equal(t, MsgError, msg.Header.Type)
	assert.Equal(t, uint32(9), msg.Header.RequestID)
	assert.JSONEq(t, `{"code":3,"message":"boom"}`, string(msg.Payload))
}
