//go:build amd64

package monitor

// This file's build tag is the resolution to the "32-bit host with
// 64-bit inferior" open question: the Monitor only builds for amd64
// hosts. wordSize in memory.go, gprSize in registers.go,
// debugRegUserOffset here, and the Fs_base-based thread pointer in readThreadPointer all assume
// the host's struct user_regs_struct and pointer width match the
// inferior's; a 32-bit host tracing a 64-bit inferior (or vice versa)
// would need a second, truncating code path through every one of
// those, which this Monitor does not carry.

// debugRegUserOffset is the byte offset of the debug registers in
// struct user on amd64 (see arch/x86/kernel/ptrace.c); 8 uint64 slots,
// DR4/DR5 unused (the kernel returns EIO for them). Declared here,
// under the amd64 build tag, since the offset itself is amd64 ABI and
// registers.go references it unconditionally: on any other arch the
// package now fails to compile with an undefined identifier instead
// of incidentally failing elsewhere.
const debugRegUserOffset = 848
