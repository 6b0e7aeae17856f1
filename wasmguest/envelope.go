package wasmguest

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// The guest ABI's wire envelope is a two-variant tagged record:
//
//	Request{data: bytes}
//	Response{data: bytes | error: string}
//
// This is exactly the shape of a two-field protobuf message, so rather than
// generate a throwaway .pb.go for two fields (or invent a bespoke TLV layout
// that isn't protobuf at all), the envelope is encoded/decoded directly
// against the wire with protowire — the same low-level package the
// protobuf-go compiler's generated code calls into under the hood.
const (
	requestFieldData   protowire.Number = 1
	responseFieldData  protowire.Number = 1
	responseFieldError protowire.Number = 2
)

// encodeRequest wraps payload in a Request{data: payload} envelope.
func encodeRequest(payload []byte) []byte {
	var b []byte
	b = protowire.AppendTag(b, requestFieldData, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	return b
}

// decodeRequest unwraps a Request{data} envelope, returning its inner bytes.
func decodeRequest(buf []byte) ([]byte, error) {
	var data []byte
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, fmt.Errorf("wasmguest: decode request: malformed tag: %w", protowire.ParseError(n))
		}
		buf = buf[n:]
		switch {
		case num == requestFieldData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("wasmguest: decode request: malformed data field: %w", protowire.ParseError(n))
			}
			data = v
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, fmt.Errorf("wasmguest: decode request: malformed field %d: %w", num, protowire.ParseError(n))
			}
			buf = buf[n:]
		}
	}
	return data, nil
}

// encodeResponseData wraps payload in a Response{data: payload} envelope.
func encodeResponseData(payload []byte) []byte {
	var b []byte
	b = protowire.AppendTag(b, responseFieldData, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	return b
}

// encodeResponseError wraps msg in a Response{error: msg} envelope.
func encodeResponseError(msg string) []byte {
	var b []byte
	b = protowire.AppendTag(b, responseFieldError, protowire.BytesType)
	b = protowire.AppendString(b, msg)
	return b
}

// decodedResponse is the parsed form of a Response{data|error} envelope.
type decodedResponse struct {
	data    []byte
	errMsg  string
	isError bool
}

// decodeResponse unwraps a Response{data|error} envelope. A malformed buffer
// is reported as an error distinct from a guest-reported error: callers
// should treat it the same as a trap.
func decodeResponse(buf []byte) (decodedResponse, error) {
	var out decodedResponse
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return out, fmt.Errorf("wasmguest: decode response: malformed tag: %w", protowire.ParseError(n))
		}
		buf = buf[n:]
		switch {
		case num == responseFieldData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return out, fmt.Errorf("wasmguest: decode response: malformed data field: %w", protowire.ParseError(n))
			}
			out.data = v
			buf = buf[n:]
		case num == responseFieldError && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(buf)
			if n < 0 {
				return out, fmt.Errorf("wasmguest: decode response: malformed error field: %w", protowire.ParseError(n))
			}
			out.errMsg = v
			out.isError = true
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return out, fmt.Errorf("wasmguest: decode response: malformed field %d: %w", num, protowire.ParseError(n))
			}
			buf = buf[n:]
		}
	}
	return out, nil
}
