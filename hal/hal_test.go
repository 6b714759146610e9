package hal

import "testing"

func TestFourCC(t *testing.T) {
	tests := []struct {
		enc  Encoding
		want string
	}{
		{EncodingJPEG, "JPEG"},
		{EncodingPNG, "PNG"},
		{EncodingI420, "I420"},
		{EncodingUnknown, "unknown"},
	}
	for _, tc := range tests {
		if got := tc.enc.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
	if FourCC("JPEG") != Encoding(0x4745504a) {
		t.Errorf("unexpected JPEG fourcc %#x", uint32(FourCC("JPEG")))
	}
}

func TestParseEncoding(t *testing.T) {
	e, err := ParseEncoding(" H264 ")
	if err != nil || e != EncodingH264 {
		t.Fatalf("ParseEncoding(h264) = %v, %v", e, err)
	}
	if _, err := ParseEncoding("webp"); err == nil {
		t.Error("expected error for unknown encoding")
	}
	if len(EncodingNames()) != 10 {
		t.Errorf("expected 10 encoding names, got %d", len(EncodingNames()))
	}
}

func TestFormatCopies(t *testing.T) {
	src := Format{Encoding: EncodingH264, Width: 1920, Height: 1088, Bitrate: 17000000, ExtraData: []byte{1, 2, 3}}

	dst := Format{ExtraData: []byte{9}}
	dst.CopyFrom(src)
	if dst.Width != 1920 || dst.Encoding != EncodingH264 {
		t.Errorf("shallow copy missed fields: %v", dst)
	}
	if len(dst.ExtraData) != 1 || dst.ExtraData[0] != 9 {
		t.Errorf("shallow copy must keep extra data, got %v", dst.ExtraData)
	}

	dst.FullCopyFrom(src)
	if !dst.Equal(src) {
		t.Errorf("full copy differs: %v vs %v", dst, src)
	}
	dst.ExtraData[0] = 7
	if src.ExtraData[0] != 1 {
		t.Error("full copy must not alias extra data")
	}
}

func TestFlags(t *testing.T) {
	f := FlagFrameEnd | FlagKeyframe
	if !f.Terminal() || FlagConfig.Terminal() {
		t.Error("unexpected Terminal result")
	}
	if f.String() != "frame_end|keyframe" {
		t.Errorf("String() = %q", f.String())
	}
	if Flags(0).String() != "none" {
		t.Errorf("zero flags = %q", Flags(0).String())
	}
}

func TestBufferHeader(t *testing.T) {
	h := NewBufferHeader(8)
	h.Offset = 2
	h.Length = copy(h.Data[2:], "abc")
	if string(h.Payload()) != "abc" {
		t.Errorf("Payload() = %q", h.Payload())
	}
	h.Flags = FlagEOS
	h.Reset()
	if h.Length != 0 || h.Flags != 0 || cap(h.Data) != 8 {
		t.Errorf("Reset left %+v", h)
	}
}
