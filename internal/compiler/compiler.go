// Package compiler defines the contract between the AOT compiler back end and
// the OAT writer: instruction-set properties, compiled-method records, and the
// lookup interface the writer queries during layout and emission.
//
// The writer borrows every byte slice reachable from these records for its
// whole run; callers must not mutate them until the writer returns.
package compiler

import "github.com/motorola-defy-lineageos/android-art/internal/dex"

// InstructionSet identifies the target architecture of compiled code.
type InstructionSet int

const (
	None InstructionSet = iota
	Arm
	Thumb2
	X86
)

func (isa InstructionSet) String() string {
	switch isa {
	case Arm:
		return "arm"
	case Thumb2:
		return "thumb2"
	case X86:
		return "x86"
	}
	return "none"
}

// Alignment returns the instruction alignment required for code of this
// instruction set, in bytes. Unknown instruction sets report 0 so callers
// that validate alignment reject them.
func (isa InstructionSet) Alignment() uint32 {
	switch isa {
	case None:
		return 1
	case Arm, Thumb2:
		return 8
	case X86:
		return 16
	}
	return 0
}

// CodeDelta returns the value added to an instruction-aligned file offset to
// form the stored code address. Thumb code is marked by a +1 low bit; the
// file position itself stays aligned.
func (isa InstructionSet) CodeDelta() uint32 {
	if isa == Thumb2 {
		return 1
	}
	return 0
}

// AlignCode rounds offset up to the instruction alignment of isa.
func AlignCode(offset uint32, isa InstructionSet) uint32 {
	align := isa.Alignment()
	return (offset + align - 1) &^ (align - 1)
}

// CompiledMethod is the compiler's output for one method.
type CompiledMethod struct {
	ISA  InstructionSet
	Code []byte

	FrameSizeInBytes uint32
	CoreSpillMask    uint32
	FpSpillMask      uint32

	// MappingTable correlates native code offsets with bytecode offsets.
	MappingTable []uint32

	// VmapTable maps virtual registers to promoted registers or spill slots.
	VmapTable []uint16
}

// AlignCode rounds offset up to the method's instruction alignment.
func (m *CompiledMethod) AlignCode(offset uint32) uint32 {
	return AlignCode(offset, m.ISA)
}

// CodeDelta returns the delta folded into the method's stored code offset.
func (m *CompiledMethod) CodeDelta() uint32 {
	return m.ISA.CodeDelta()
}

// CompiledInvokeStub is a trampoline selected by method shorty and
// static-ness rather than per method.
type CompiledInvokeStub struct {
	ISA  InstructionSet
	Code []byte
}

// MethodReference names one method of one input container.
type MethodReference struct {
	File        *dex.File
	MethodIndex uint32
}

// Compiler is the lookup surface the writer needs from the compiler back end.
// The writer queries it identically in both of its passes; results must be
// stable for the writer's lifetime.
type Compiler interface {
	// GetCompiledMethod returns the compiled record for a method, or nil when
	// the method was not compiled (e.g. abstract).
	GetCompiledMethod(ref MethodReference) *CompiledMethod

	// FindInvokeStub returns the invoke trampoline for a signature shape, or
	// nil when none was generated.
	FindInvokeStub(isStatic bool, shorty string) *CompiledInvokeStub

	// InstructionSet is the target architecture of this compilation.
	InstructionSet() InstructionSet

	// IsImage reports whether this is an image build, in which case the
	// writer forwards per-method layout to the runtime patcher.
	IsImage() bool
}
