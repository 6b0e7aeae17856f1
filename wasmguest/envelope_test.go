package wasmguest

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRequest(t *testing.T) {
	payload := []byte(`{"flagKey":"checkout.enabled"}`)
	encoded := encodeRequest(payload)

	got, err := decodeRequest(encoded)
	if err != nil {
		t.Fatalf("decodeRequest: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("decodeRequest = %q, want %q", got, payload)
	}
}

func TestEncodeDecodeRequestEmpty(t *testing.T) {
	encoded := encodeRequest(nil)
	got, err := decodeRequest(encoded)
	if err != nil {
		t.Fatalf("decodeRequest: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("decodeRequest = %q, want empty", got)
	}
}

func TestDecodeRequestMalformed(t *testing.T) {
	if _, err := decodeRequest([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Error("decodeRequest on garbage bytes: expected error, got nil")
	}
}

func TestEncodeDecodeResponseData(t *testing.T) {
	payload := []byte(`{"value":true,"reason":"TARGETING_MATCH"}`)
	encoded := encodeResponseData(payload)

	got, err := decodeResponse(encoded)
	if err != nil {
		t.Fatalf("decodeResponse: %v", err)
	}
	if got.isError {
		t.Error("decodeResponse: isError = true, want false")
	}
	if !bytes.Equal(got.data, payload) {
		t.Errorf("decodeResponse.data = %q, want %q", got.data, payload)
	}
}

func TestEncodeDecodeResponseError(t *testing.T) {
	encoded := encodeResponseError("flag not found")

	got, err := decodeResponse(encoded)
	if err != nil {
		t.Fatalf("decodeResponse: %v", err)
	}
	if !got.isError {
		t.Error("decodeResponse: isError = false, want true")
	}
	if got.errMsg != "flag not found" {
		t.Errorf("decodeResponse.errMsg = %q, want %q", got.errMsg, "flag not found")
	}
}

func TestDecodeResponseEmpty(t *testing.T) {
	got, err := decodeResponse(nil)
	if err != nil {
		t.Fatalf("decodeResponse: %v", err)
	}
	if got.isError || len(got.data) != 0 {
		t.Errorf("decodeResponse of empty buffer = %+v, want zero value", got)
	}
}

func TestDecodeResponseMalformed(t *testing.T) {
	if _, err := decodeResponse([]byte{0x08, 0xff}); err == nil {
		t.Error("decodeResponse on malformed bytes: expected error, got nil")
	}
}
