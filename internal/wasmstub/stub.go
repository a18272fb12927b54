// Package wasmstub assembles a minimal engine binary for tests that need a
// real wazero instance.
//
//	memory       1 page, exported, no maximum
//	global 0     heap pointer, starts at 1024
//	global 1     bootstrap counter
//	global 2     last handle, starts at 100
//	malloc       bump allocator aligned to 8
//	free         no-op
//	topt_initialize, topt_shutdown            return 1
//	topt_session_create(fw, ver, time, out)   writes {id: 42, valid: 1}
//	topt_session_close(id, code, time)        returns id == 42
//	topt_module_create, topt_suite_create,
//	topt_test_create                          write the next handle
//	topt_module_close, topt_suite_close,
//	topt_test_close                           return id != 0
//	topt_session_set_string_tag(id, k, v)     grows memory, returns id == 42 && *k != 0
//	topt_test_set_string_tag(id, k, v)        grows memory, returns id != 0 && *k != 0
//	topt_test_set_benchmark_number_data       same as topt_test_set_string_tag
//	topt_send_code_coverage_payload           no-op
//	_initialize  increments global 1
//	boot_count   returns global 1
//	grow         grows memory by one page, returns the old size
//	trap         unreachable
//
// Tag calls grow memory so that every one of them moves the backing
// buffer, and they check the first key byte so a write lost to the old
// buffer shows up as a rejected call.
package wasmstub

const (
	valI32 = 0x7f
	valI64 = 0x7e
)

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func vec(items ...[]byte) []byte {
	out := uleb(uint32(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func section(id byte, payload []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint32(len(payload)))...)
	return append(out, payload...)
}

func name(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

func funcType(params, results []byte) []byte {
	out := []byte{0x60}
	out = append(out, uleb(uint32(len(params)))...)
	out = append(out, params...)
	out = append(out, uleb(uint32(len(results)))...)
	return append(out, results...)
}

func export(n string, kind byte, idx uint32) []byte {
	out := name(n)
	out = append(out, kind)
	return append(out, uleb(idx)...)
}

// body wraps an expression with an empty locals vector
func body(expr ...byte) []byte {
	b := append([]byte{0x00}, expr...)
	return append(uleb(uint32(len(b))), b...)
}

// create bumps global 2 and writes {id, valid: 1} to the out-record in
// local out
func create(out byte) []byte {
	return body(
		0x23, 0x02, 0x42, 0x01, 0x7c, 0x24, 0x02,
		0x20, out, 0x23, 0x02, 0x37, 0x03, 0x00,
		0x20, out, 0x41, 0x01, 0x3a, 0x00, 0x08,
		0x0b,
	)
}

// tag grows memory by a page, then checks the handle with cmp against
// want and that the key's first byte is set
func tag(want, cmp byte) []byte {
	return body(
		0x41, 0x01, 0x40, 0x00, 0x1a,
		0x20, 0x00, 0x42, want, cmp,
		0x20, 0x01, 0x2d, 0x00, 0x00, 0x41, 0x00, 0x47,
		0x71,
		0x0b,
	)
}

// nonZero returns id != 0
func nonZero() []byte {
	return body(0x20, 0x00, 0x42, 0x00, 0x52, 0x0b)
}

// Engine returns the stub binary
func Engine() []byte {
	types := vec(
		funcType([]byte{valI32}, []byte{valI32}),                              // 0
		funcType([]byte{valI32}, nil),                                         // 1
		funcType(nil, []byte{valI32}),                                         // 2
		funcType([]byte{valI32, valI32, valI32, valI32}, nil),                 // 3
		funcType([]byte{valI64, valI32, valI32}, []byte{valI32}),              // 4
		funcType(nil, nil),                                                    // 5
		funcType([]byte{valI64, valI32, valI32, valI32, valI32, valI32}, nil), // 6
		funcType([]byte{valI64, valI32, valI32, valI32}, nil),                 // 7
		funcType([]byte{valI64, valI32}, []byte{valI32}),                      // 8
		funcType([]byte{valI32, valI32}, nil),                                 // 9
	)

	// function index -> type index
	funcs := vec(
		[]byte{0}, []byte{1}, []byte{0}, []byte{2}, []byte{3}, []byte{4}, []byte{5}, []byte{2},
		[]byte{5}, []byte{2}, []byte{6}, []byte{7}, []byte{7}, []byte{4}, []byte{8}, []byte{8},
		[]byte{8}, []byte{4}, []byte{4}, []byte{9},
	)

	memory := vec([]byte{0x00, 0x01})

	globals := vec(
		[]byte{valI32, 0x01, 0x41, 0x80, 0x08, 0x0b},
		[]byte{valI32, 0x01, 0x41, 0x00, 0x0b},
		[]byte{valI64, 0x01, 0x42, 0xe4, 0x00, 0x0b},
	)

	exports := vec(
		export("memory", 0x02, 0),
		export("malloc", 0x00, 0),
		export("free", 0x00, 1),
		export("topt_initialize", 0x00, 2),
		export("topt_shutdown", 0x00, 3),
		export("topt_session_create", 0x00, 4),
		export("topt_session_set_string_tag", 0x00, 5),
		export("_initialize", 0x00, 6),
		export("boot_count", 0x00, 7),
		export("trap", 0x00, 8),
		export("grow", 0x00, 9),
		export("topt_module_create", 0x00, 10),
		export("topt_suite_create", 0x00, 11),
		export("topt_test_create", 0x00, 12),
		export("topt_test_set_string_tag", 0x00, 13),
		export("topt_test_close", 0x00, 14),
		export("topt_suite_close", 0x00, 15),
		export("topt_module_close", 0x00, 16),
		export("topt_session_close", 0x00, 17),
		export("topt_test_set_benchmark_number_data", 0x00, 18),
		export("topt_send_code_coverage_payload", 0x00, 19),
	)

	code := vec(
		// malloc: result = heap; heap = (heap + size + 7) & -8
		body(0x23, 0x00, 0x23, 0x00, 0x20, 0x00, 0x6a, 0x41, 0x07, 0x6a, 0x41, 0x78, 0x71, 0x24, 0x00, 0x0b),
		// free
		body(0x0b),
		// topt_initialize
		body(0x41, 0x01, 0x0b),
		// topt_shutdown
		body(0x41, 0x01, 0x0b),
		// topt_session_create: i64.store out, 42; i32.store8 out+8, 1
		body(0x20, 0x03, 0x42, 0x2a, 0x37, 0x03, 0x00, 0x20, 0x03, 0x41, 0x01, 0x3a, 0x00, 0x08, 0x0b),
		// topt_session_set_string_tag
		tag(0x2a, 0x51),
		// _initialize: boots++
		body(0x23, 0x01, 0x41, 0x01, 0x6a, 0x24, 0x01, 0x0b),
		// boot_count
		body(0x23, 0x01, 0x0b),
		// trap
		body(0x00, 0x0b),
		// grow
		body(0x41, 0x01, 0x40, 0x00, 0x0b),
		// topt_module_create
		create(0x05),
		// topt_suite_create
		create(0x03),
		// topt_test_create
		create(0x03),
		// topt_test_set_string_tag
		tag(0x00, 0x52),
		// topt_test_close, topt_suite_close, topt_module_close
		nonZero(),
		nonZero(),
		nonZero(),
		// topt_session_close: id == 42
		body(0x20, 0x00, 0x42, 0x2a, 0x51, 0x0b),
		// topt_test_set_benchmark_number_data
		tag(0x00, 0x52),
		// topt_send_code_coverage_payload
		body(0x0b),
	)

	mod := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	mod = append(mod, section(1, types)...)
	mod = append(mod, section(3, funcs)...)
	mod = append(mod, section(5, memory)...)
	mod = append(mod, section(6, globals)...)
	mod = append(mod, section(7, exports)...)
	mod = append(mod, section(10, code)...)
	return mod
}
