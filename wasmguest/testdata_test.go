package wasmguest

// echoGuestWASM returns a minimal, hand-assembled WebAssembly module (no
// wat2wasm or other toolchain involved) that implements the five required
// guest exports well enough to exercise the Guest Bridge end to end:
//
//   - wasm_msg_alloc(n: i32) -> i32: a bump allocator. Every block it hands
//     out is prefixed with its own total length (n+4) as a little-endian
//     u32 immediately before the returned pointer, exactly as Instance.consume
//     expects to find it at addr-4.
//   - wasm_msg_free(ptr: i32): a no-op; this guest never reclaims memory.
//   - wasm_msg_guest_set_resolver_state, wasm_msg_guest_resolve_with_sticky,
//     wasm_msg_guest_flush_logs: all three are the same exported function,
//     "echo". It reads the length prefix the host's transfer() relied on
//     wasm_msg_alloc to set up, copies that many bytes into a freshly
//     allocated block, and returns the new pointer.
//
// Request{data: bytes} and Response{data: bytes} both encode field 1 as a
// length-delimited value, so copying the request bytes verbatim produces a
// byte-identical, well-formed Response{data: <the same bytes>} envelope
// without this guest ever having to parse protobuf wire format itself.
//
// The module declares no imports: it never calls wasm_msg_host_current_time
// or the log hooks, so the host's registered "wasm_msg" host module is
// simply unused rather than unsatisfied.
func echoGuestWASM() []byte {
	var b []byte

	// Preamble: magic number + version 1.
	b = append(b, 0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00)

	// Type section (id 1): two function types.
	//   type 0: (i32) -> (i32)   used by wasm_msg_alloc and echo
	//   type 1: (i32) -> ()      used by wasm_msg_free
	b = append(b, 0x01, 0x0A,
		0x02,
		0x60, 0x01, 0x7F, 0x01, 0x7F,
		0x60, 0x01, 0x7F, 0x00,
	)

	// Function section (id 3): 3 functions, by type index.
	b = append(b, 0x03, 0x04,
		0x03,
		0x00, // func0 = alloc, type 0
		0x01, // func1 = free, type 1
		0x00, // func2 = echo, type 0
	)

	// Memory section (id 5): one memory, 2 pages (128 KiB), no max.
	b = append(b, 0x05, 0x03,
		0x01,
		0x00,
		0x02,
	)

	// Global section (id 6): mutable i32 "next_free" bump pointer, init 8.
	b = append(b, 0x06, 0x06,
		0x01,
		0x7F, 0x01,
		0x41, 0x08, 0x0B,
	)

	// Export section (id 7): memory, plus the five guest ABI entry points
	// (three of which point at the same echo function body).
	exports := []byte{
		0x06, // 6 exports
	}
	exports = append(exports, exportEntry("memory", 0x02, 0)...)
	exports = append(exports, exportEntry(exportAlloc, 0x00, 0)...)
	exports = append(exports, exportEntry(exportFree, 0x00, 1)...)
	exports = append(exports, exportEntry(exportSetState, 0x00, 2)...)
	exports = append(exports, exportEntry(exportResolve, 0x00, 2)...)
	exports = append(exports, exportEntry(exportFlushLogs, 0x00, 2)...)
	b = append(b, 0x07)
	b = append(b, uleb128(uint32(len(exports)))...)
	b = append(b, exports...)

	// Code section (id 10): bodies for alloc, free, echo.
	allocBody := []byte{
		0x01, 0x01, 0x7F, // 1 local, i32 ("base")
		0x23, 0x00, // global.get 0            ; next_free
		0x21, 0x01, // local.set 1             ; base = next_free
		0x20, 0x01, // local.get 1             ; address = base
		0x20, 0x00, // local.get 0             ; n
		0x41, 0x04, // i32.const 4
		0x6A,       // i32.add                 ; value = n+4
		0x36, 0x02, 0x00, // i32.store align=2 offset=0  ; *base = n+4
		0x20, 0x01, // local.get 1             ; base
		0x20, 0x00, // local.get 0             ; n
		0x41, 0x04, // i32.const 4
		0x6A,       // i32.add                 ; n+4
		0x6A,       // i32.add                 ; base+n+4
		0x24, 0x00, // global.set 0            ; next_free = base+n+4
		0x20, 0x01, // local.get 1             ; base
		0x41, 0x04, // i32.const 4
		0x6A, // i32.add                 ; base+4
		0x0F, // return
		0x0B, // end
	}

	freeBody := []byte{
		0x00, // 0 locals
		0x0B, // end (no-op)
	}

	echoBody := []byte{
		0x01, 0x04, 0x7F, // 4 locals, i32: prefix, contentLen, newPtr, i
		0x20, 0x00, // local.get 0             ; ptr
		0x41, 0x04, // i32.const 4
		0x6B,       // i32.sub                 ; ptr-4
		0x28, 0x02, 0x00, // i32.load align=2 offset=0   ; prefix
		0x21, 0x01, // local.set 1             ; prefix
		0x20, 0x01, // local.get 1             ; prefix
		0x41, 0x04, // i32.const 4
		0x6B,       // i32.sub                 ; prefix-4
		0x21, 0x02, // local.set 2             ; contentLen
		0x20, 0x02, // local.get 2             ; contentLen
		0x10, 0x00, // call 0                  ; alloc(contentLen)
		0x21, 0x03, // local.set 3             ; newPtr
		0x41, 0x00, // i32.const 0
		0x21, 0x04, // local.set 4             ; i = 0
		0x02, 0x40, // block
		0x03, 0x40, // loop
		0x20, 0x04, //   local.get 4           ; i
		0x20, 0x02, //   local.get 2           ; contentLen
		0x4E,       //   i32.ge_s
		0x0D, 0x01, //   br_if 1               ; exit if i >= contentLen
		0x20, 0x03, //   local.get 3           ; newPtr
		0x20, 0x04, //   local.get 4           ; i
		0x6A,       //   i32.add               ; newPtr+i (store address)
		0x20, 0x00, //   local.get 0           ; ptr
		0x20, 0x04, //   local.get 4           ; i
		0x6A,             //   i32.add               ; ptr+i
		0x2D, 0x00, 0x00, //   i32.load8_u align=0 offset=0
		0x3A, 0x00, 0x00, //   i32.store8 align=0 offset=0
		0x20, 0x04, //   local.get 4           ; i
		0x41, 0x01, //   i32.const 1
		0x6A,       //   i32.add               ; i+1
		0x21, 0x04, //   local.set 4
		0x0C, 0x00, //   br 0                  ; continue loop
		0x0B,       // end loop
		0x0B,       // end block
		0x20, 0x03, // local.get 3             ; newPtr
		0x0F,       // return
		0x0B,       // end
	}

	code := []byte{0x03}
	code = append(code, uleb128(uint32(len(allocBody)))...)
	code = append(code, allocBody...)
	code = append(code, uleb128(uint32(len(freeBody)))...)
	code = append(code, freeBody...)
	code = append(code, uleb128(uint32(len(echoBody)))...)
	code = append(code, echoBody...)

	b = append(b, 0x0A)
	b = append(b, uleb128(uint32(len(code)))...)
	b = append(b, code...)

	return b
}

// exportEntry encodes one WASM export-section entry.
func exportEntry(name string, kind byte, index uint32) []byte {
	out := uleb128(uint32(len(name)))
	out = append(out, name...)
	out = append(out, kind)
	out = append(out, uleb128(index)...)
	return out
}

// uleb128 encodes v as an unsigned LEB128 varint.
func uleb128(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			return out
		}
	}
}
