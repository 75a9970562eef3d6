package speech

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeFullClientRequest(t *testing.T) {
	payload := []byte(`{"user":{"uid":"u1"}}`)
	data, err := EncodeMessage(CreateFullClientRequest(payload, NoCompression))
	if err != nil {
		t.Fatalf("EncodeMessage err: %v", err)
	}

	if want := []byte{0x11, 0x10, 0x10, 0x00}; !bytes.Equal(data[:4], want) {
		t.Fatalf("header = %x, want %x", data[:4], want)
	}

	msg, err := DecodeMessage(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeMessage err: %v", err)
	}
	if msg.Header.MessageType != FullClientRequest || msg.Header.SerializationMethod != JSONSerialization {
		t.Fatalf("unexpected header: %+v", msg.Header)
	}
	if !bytes.Equal(msg.Payload, payload) {
		t.Fatalf("payload = %q, want %q", msg.Payload, payload)
	}
}

func TestAudioOnlyRequestSequenceFlags(t *testing.T) {
	tests := []struct {
		name     string
		sequence int32
		last     bool
		flags    MessageFlags
		wantSeq  int32
		wantLast bool
	}{
		{name: "middle packet", sequence: 2, flags: PositiveSequenceNumber, wantSeq: 2},
		{name: "last packet", sequence: 5, last: true, flags: NegativeSequenceNumber, wantSeq: -5, wantLast: true},
		{name: "last without sequence", sequence: 0, last: true, flags: LastPacketNoSequence, wantLast: true},
	}

	for _, tt := range tests {
		msg := CreateAudioOnlyRequest([]byte("pcm"), tt.sequence, tt.last, GzipCompression)
		if msg.Header.MessageFlags != tt.flags {
			t.Errorf("%s: flags = %04b, want %04b", tt.name, msg.Header.MessageFlags, tt.flags)
		}

		data, err := EncodeMessage(msg)
		if err != nil {
			t.Fatalf("%s: EncodeMessage err: %v", tt.name, err)
		}
		decoded, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("%s: DecodeMessage err: %v", tt.name, err)
		}
		if decoded.Sequence != tt.wantSeq {
			t.Errorf("%s: sequence = %d, want %d", tt.name, decoded.Sequence, tt.wantSeq)
		}
		if decoded.IsLastPacket() != tt.wantLast {
			t.Errorf("%s: IsLastPacket = %v, want %v", tt.name, decoded.IsLastPacket(), tt.wantLast)
		}
	}
}

func TestEventMessageCarriesIdentifiers(t *testing.T) {
	started := &Message{
		Header:    NewHeader(FullServerResponse, WithEvent, JSONSerialization, NoCompression),
		EventType: EventTypeConnectionStarted,
		ConnectID: "conn-1",
		Payload:   []byte("{}"),
	}
	started.PayloadSize = uint32(len(started.Payload))

	finished := &Message{
		Header:    NewHeader(FullServerResponse, WithEvent, JSONSerialization, NoCompression),
		EventType: EventTypeSessionFinished,
		SessionID: "sess-1",
	}

	for _, msg := range []*Message{started, finished} {
		data, err := EncodeMessage(msg)
		if err != nil {
			t.Fatalf("EncodeMessage err: %v", err)
		}
		decoded, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("DecodeMessage err: %v", err)
		}
		if decoded.EventType != msg.EventType || decoded.SessionID != msg.SessionID || decoded.ConnectID != msg.ConnectID {
			t.Fatalf("decoded %+v, want %+v", decoded, msg)
		}
	}
}

func TestDecodeErrorMessage(t *testing.T) {
	msg := &Message{
		Header:    NewHeader(ErrorMessage, NoSequenceNumber, JSONSerialization, NoCompression),
		ErrorCode: 45000001,
		Payload:   []byte(`{"error":"bad request"}`),
	}
	msg.PayloadSize = uint32(len(msg.Payload))

	data, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage err: %v", err)
	}
	decoded, err := DecodeMessage(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeMessage err: %v", err)
	}
	if decoded.ErrorCode != 45000001 || string(decoded.Payload) != `{"error":"bad request"}` {
		t.Fatalf("unexpected error message: %+v", decoded)
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	if _, err := DecodeHeader([]byte{0x11}); err == nil {
		t.Fatal("expected error for short header")
	}
	if _, err := DecodeHeader([]byte{0x21, 0x10, 0x10, 0x00}); err == nil {
		t.Fatal("expected error for unknown protocol version")
	}

	data, err := EncodeMessage(CreateFullClientRequest([]byte("payload"), NoCompression))
	if err != nil {
		t.Fatalf("EncodeMessage err: %v", err)
	}
	if _, err := DecodeMessage(bytes.NewReader(data[:len(data)-2])); err == nil {
		t.Fatal("expected error for truncated payload")
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	original := bytes.Repeat([]byte("voice note "), 100)

	compressed, err := CompressPayload(original, GzipCompression)
	if err != nil {
		t.Fatalf("CompressPayload err: %v", err)
	}
	if len(compressed) >= len(original) {
		t.Fatalf("expected gzip to shrink repetitive data: %d >= %d", len(compressed), len(original))
	}

	restored, err := DecompressPayload(compressed, GzipCompression)
	if err != nil {
		t.Fatalf("DecompressPayload err: %v", err)
	}
	if !bytes.Equal(restored, original) {
		t.Fatal("round trip mismatch")
	}

	if _, err := CompressPayload(original, CompressionMethod(7)); err == nil {
		t.Fatal("expected error for unknown compression")
	}
	if _, err := DecompressPayload([]byte("not gzip"), GzipCompression); err == nil {
		t.Fatal("expected error for corrupt gzip data")
	}
}
