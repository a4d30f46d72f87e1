package oat

import (
	"fmt"
	"io"

	"github.com/motorola-defy-lineageos/android-art/internal/compiler"
	"github.com/motorola-defy-lineageos/android-art/internal/dex"
)

// pageSize is the target platform page size. The executable section must
// start on a page boundary so the runtime can map it directly.
const pageSize = 4096

// RuntimePatcher receives per-method layout during image builds, so a later
// image dump can point resolved runtime methods at their compiled code. It is
// a pure sink: nothing it does influences layout or emission.
type RuntimePatcher interface {
	SetMethodOatInfo(f *dex.File, methodIndex uint32, isDirect bool, layout MethodLayout)
}

// Writer lays out and emits one OAT file. Construction runs the layout pass;
// Write runs the emit pass. The two passes must derive identical offsets:
// every non-deduplicated write during emission is checked against the file
// position, and any divergence fails the write with a MismatchError.
//
// The writer borrows all compiler- and input-owned byte slices for its
// lifetime and is confined to a single goroutine.
type Writer struct {
	files    []*dex.File
	compiler compiler.Compiler
	patcher  RuntimePatcher

	header   *Header
	dexFiles []*oatDexFile
	classes  []*oatClasses
	methods  []*oatMethods // one per class def, across all inputs in order

	executableOffsetPadding uint32
	dedup                   *dedupIndex
}

// Create writes a complete OAT file for files to f: it constructs a writer,
// runs layout, emits, and discards the writer. On error the file may hold a
// partial write; deleting it is the caller's responsibility.
func Create(f io.WriteSeeker, files []*dex.File, c compiler.Compiler, patcher RuntimePatcher) error {
	w, err := NewWriter(files, c, patcher)
	if err != nil {
		return err
	}
	return w.Write(f)
}

// NewWriter runs the layout pass over files and returns a writer ready to
// emit. patcher may be nil; it is consulted only for image builds.
func NewWriter(files []*dex.File, c compiler.Compiler, patcher RuntimePatcher) (*Writer, error) {
	if pageSize == 0 || pageSize&(pageSize-1) != 0 {
		return nil, fmt.Errorf("oat: page size %d is not a power of two", pageSize)
	}
	align := c.InstructionSet().Alignment()
	if align == 0 || align&(align-1) != 0 {
		return nil, fmt.Errorf("oat: instruction alignment %d for %s is not a power of two",
			align, c.InstructionSet())
	}

	w := &Writer{
		files:    files,
		compiler: c,
		patcher:  patcher,
		header:   NewHeader(len(files)),
		dedup:    newDedupIndex(),
	}

	offset := w.layoutHeader()
	offset = w.layoutDexFiles(offset)
	offset = w.layoutClasses(offset)
	offset = w.layoutMethods(offset)
	offset = w.layoutExecutable(offset)
	w.layoutCode(offset)
	return w, nil
}

// Checksum returns the rolling checksum over the logical contents, final
// once layout has run.
func (w *Writer) Checksum() uint32 {
	return w.header.Checksum()
}

// ExecutableOffset returns the page-aligned file offset of the executable
// section.
func (w *Writer) ExecutableOffset() uint32 {
	return w.header.ExecutableOffset()
}

// MethodLayouts returns a copy of the methods table computed for class def
// classDefIndex of input fileIndex.
func (w *Writer) MethodLayouts(fileIndex, classDefIndex int) []MethodLayout {
	classIndex := 0
	for i := 0; i < fileIndex; i++ {
		classIndex += w.files[i].NumClassDefs()
	}
	layouts := w.methods[classIndex+classDefIndex].layouts
	out := make([]MethodLayout, len(layouts))
	copy(out, layouts)
	return out
}

// layoutHeader reserves the fixed prelude.
func (w *Writer) layoutHeader() uint32 {
	return w.header.sizeOf()
}

// layoutDexFiles sizes the per-input descriptors. Their classes offsets are
// not known yet; layoutClasses fills them in.
func (w *Writer) layoutDexFiles(offset uint32) uint32 {
	for _, f := range w.files {
		d := newOatDexFile(f)
		w.dexFiles = append(w.dexFiles, d)
		offset += d.sizeOf()
	}
	return offset
}

// layoutClasses assigns each input's class-table offset into its descriptor,
// checksums the now-complete descriptor, and reserves the class table.
func (w *Writer) layoutClasses(offset uint32) uint32 {
	for i, f := range w.files {
		w.dexFiles[i].classesOffset = offset
		w.dexFiles[i].updateChecksum(w.header)

		c := newOatClasses(f)
		w.classes = append(w.classes, c)
		offset += c.sizeOf()
	}
	return offset
}

// layoutMethods points each class-table entry at its methods table and
// reserves the table: one record per declared method, none for a class def
// without class data.
func (w *Writer) layoutMethods(offset uint32) uint32 {
	for i, f := range w.files {
		for classDefIndex := range f.ClassDefs {
			w.classes[i].methodsOffsets[classDefIndex] = offset
			m := newOatMethods(f.Location, f.ClassDefs[classDefIndex].NumMethods())
			w.methods = append(w.methods, m)
			offset += m.sizeOf()
		}
		w.classes[i].updateChecksum(w.header)
	}
	return offset
}

// layoutExecutable rounds the cursor up to the next page boundary and pins
// the executable-section offset.
func (w *Writer) layoutExecutable(offset uint32) uint32 {
	old := offset
	offset = roundUp(offset, pageSize)
	w.header.SetExecutableOffset(offset)
	w.executableOffsetPadding = offset - old
	return offset
}

// layoutCode assigns offsets to every method's compiled artifacts.
func (w *Writer) layoutCode(offset uint32) uint32 {
	classIndex := 0
	for _, f := range w.files {
		for classDefIndex := range f.ClassDefs {
			cd := &f.ClassDefs[classDefIndex]
			visitMethods(cd, func(i int, m *dex.Method, isStatic, isDirect bool) error {
				offset = w.layoutCodeMethod(offset, classIndex, i, isStatic, isDirect, m, f)
				return nil
			})
			w.methods[classIndex].updateChecksum(w.header)
			classIndex++
		}
	}
	return offset
}

// layoutCodeMethod computes one method's MethodLayout and advances the
// cursor past whatever bytes the method contributes: aligned code on first
// occurrence, the three inline frame words, first-occurrence mapping and
// vmap tables, and a first-occurrence invoke stub.
func (w *Writer) layoutCodeMethod(offset uint32, classIndex, classDefMethodIndex int,
	isStatic, isDirect bool, m *dex.Method, f *dex.File) uint32 {

	var layout MethodLayout

	cm := w.compiler.GetCompiledMethod(compiler.MethodReference{File: f, MethodIndex: m.Index})
	if cm != nil {
		offset = cm.AlignCode(offset)

		codeSize := uint32(len(cm.Code))
		codeOffset := uint32(0)
		if codeSize != 0 {
			// Thumb code is addressed with a +1 bit; the file position
			// stays instruction-aligned.
			codeOffset = offset + cm.CodeDelta()
		}
		if prev, inserted := w.dedup.code.lookupOrInsert(cm.Code, codeOffset); !inserted {
			codeOffset = prev
		} else {
			offset += codeSize
			w.header.UpdateChecksum(cm.Code)
		}
		layout.CodeOffset = codeOffset
		layout.FrameSizeInBytes = cm.FrameSizeInBytes
		layout.CoreSpillMask = cm.CoreSpillMask
		layout.FpSpillMask = cm.FpSpillMask
	}

	// The frame words are per-method metadata, emitted inline for every
	// method (zeros for uncompiled ones) and never deduplicated.
	for _, word := range [3]uint32{layout.FrameSizeInBytes, layout.CoreSpillMask, layout.FpSpillMask} {
		offset += 4
		w.header.UpdateChecksumUint32(word)
	}

	if cm != nil {
		mapping := encodeUint32s(cm.MappingTable)
		if len(mapping) != 0 {
			layout.MappingTableOffset = offset
		}
		if prev, inserted := w.dedup.mappingTables.lookupOrInsert(mapping, layout.MappingTableOffset); !inserted {
			layout.MappingTableOffset = prev
		} else {
			offset += uint32(len(mapping))
			w.header.UpdateChecksum(mapping)
		}

		vmap := encodeUint16s(cm.VmapTable)
		if len(vmap) != 0 {
			layout.VmapTableOffset = offset
		}
		if prev, inserted := w.dedup.vmapTables.lookupOrInsert(vmap, layout.VmapTableOffset); !inserted {
			layout.VmapTableOffset = prev
		} else {
			offset += uint32(len(vmap))
			w.header.UpdateChecksum(vmap)
		}
	}

	// The invoke stub is keyed by signature shape, not by method, so it is
	// looked up for uncompiled methods too.
	if stub := w.compiler.FindInvokeStub(isStatic, m.Shorty); stub != nil {
		offset = compiler.AlignCode(offset, w.compiler.InstructionSet())

		stubSize := uint32(len(stub.Code))
		if stubSize != 0 {
			layout.InvokeStubOffset = offset
		}
		if prev, inserted := w.dedup.code.lookupOrInsert(stub.Code, layout.InvokeStubOffset); !inserted {
			layout.InvokeStubOffset = prev
		} else {
			offset += stubSize
			w.header.UpdateChecksum(stub.Code)
		}
	}

	w.methods[classIndex].layouts[classDefMethodIndex] = layout

	if w.compiler.IsImage() && w.patcher != nil {
		w.patcher.SetMethodOatInfo(f, m.Index, isDirect, layout)
	}
	return offset
}

// Write emits the laid-out file to f, which must be positioned at its start.
// Emission re-derives every offset by the same procedure as layout and fails
// with a MismatchError if the file position ever disagrees.
func (w *Writer) Write(f io.WriteSeeker) error {
	fw, err := newFileWriter(f)
	if err != nil {
		return err
	}

	w.header.write(fw)
	for _, d := range w.dexFiles {
		d.write(fw)
	}
	for _, c := range w.classes {
		c.write(fw)
	}
	for _, m := range w.methods {
		m.write(fw)
	}
	if fw.err != nil {
		return fw.err
	}

	w.emitCode(fw)
	fw.finish()
	return fw.err
}

// emitCode seeks to the executable section and emits every method's
// artifacts with the same deduplication discipline layout used.
func (w *Writer) emitCode(fw *fileWriter) {
	fw.clearContext()
	fw.seekForward("executable section padding", w.executableOffsetPadding)
	if fw.err != nil {
		return
	}
	if fw.pos != w.header.ExecutableOffset() {
		fw.err = &MismatchError{Kind: AlignmentMismatch, Record: "executable section",
			Pos: fw.pos, Want: w.header.ExecutableOffset()}
		return
	}

	emitted := newDedupIndex() // tracks first occurrences during this pass

	classIndex := 0
	for _, f := range w.files {
		for classDefIndex := range f.ClassDefs {
			cd := &f.ClassDefs[classDefIndex]
			err := visitMethods(cd, func(i int, m *dex.Method, isStatic, isDirect bool) error {
				return w.emitCodeMethod(fw, emitted, classIndex, i, isStatic, m, f)
			})
			if err != nil {
				return
			}
			classIndex++
		}
	}
}

// emitCodeMethod writes one method's artifacts. For each deduplicated
// artifact: on first occurrence the bytes are written after checking the
// file position against the stored offset; on a repeat occurrence nothing is
// written and the stored offset must equal the first occurrence's.
func (w *Writer) emitCodeMethod(fw *fileWriter, emitted *dedupIndex,
	classIndex, classDefMethodIndex int, isStatic bool, m *dex.Method, f *dex.File) error {

	fw.setMethod(f.Location, m.Index)
	layout := w.methods[classIndex].layouts[classDefMethodIndex]

	cm := w.compiler.GetCompiledMethod(compiler.MethodReference{File: f, MethodIndex: m.Index})
	if cm != nil {
		fw.seekForward("method code alignment", cm.AlignCode(fw.pos)-fw.pos)

		want := uint32(0)
		if len(cm.Code) != 0 {
			want = fw.pos + cm.CodeDelta()
		}
		if err := w.emitDeduped(fw, emitted.code, w.dedup.code,
			"method code", cm.Code, layout.CodeOffset, want); err != nil {
			return err
		}
	}

	fw.writeUint32("method frame size", layout.FrameSizeInBytes)
	fw.writeUint32("method core spill mask", layout.CoreSpillMask)
	fw.writeUint32("method fp spill mask", layout.FpSpillMask)

	if cm != nil {
		mapping := encodeUint32s(cm.MappingTable)
		want := uint32(0)
		if len(mapping) != 0 {
			want = fw.pos
		}
		if err := w.emitDeduped(fw, emitted.mappingTables, w.dedup.mappingTables,
			"mapping table", mapping, layout.MappingTableOffset, want); err != nil {
			return err
		}

		vmap := encodeUint16s(cm.VmapTable)
		want = 0
		if len(vmap) != 0 {
			want = fw.pos
		}
		if err := w.emitDeduped(fw, emitted.vmapTables, w.dedup.vmapTables,
			"vmap table", vmap, layout.VmapTableOffset, want); err != nil {
			return err
		}
	}

	if stub := w.compiler.FindInvokeStub(isStatic, m.Shorty); stub != nil {
		fw.seekForward("invoke stub alignment",
			compiler.AlignCode(fw.pos, w.compiler.InstructionSet())-fw.pos)

		want := uint32(0)
		if len(stub.Code) != 0 {
			want = fw.pos
		}
		if err := w.emitDeduped(fw, emitted.code, w.dedup.code,
			"invoke stub code", stub.Code, layout.InvokeStubOffset, want); err != nil {
			return err
		}
	}
	return fw.err
}

// emitDeduped writes one deduplicated artifact. stored is the offset the
// layout pass put in the MethodLayout; want is the offset this first
// occurrence would get from the current file position. layoutMap holds the
// offsets assigned during layout and must agree in either branch: the two
// passes walked the same inputs, so any disagreement is an internal bug.
func (w *Writer) emitDeduped(fw *fileWriter, emittedMap, layoutMap dedupMap,
	record string, data []byte, stored, want uint32) error {

	if fw.err != nil {
		return fw.err
	}
	if prev, inserted := emittedMap.lookupOrInsert(data, want); !inserted {
		// Already in the file; the stored offset must point at that copy.
		if stored != prev {
			fw.err = &MismatchError{Kind: LayoutMismatch, Record: record,
				Pos: prev, Want: stored}
		}
		return fw.err
	}
	if stored != want {
		fw.err = &MismatchError{Kind: LayoutMismatch, Record: record,
			Pos: want, Want: stored}
		return fw.err
	}
	if first, ok := layoutMap[string(data)]; !ok || first != stored {
		fw.err = &MismatchError{Kind: LayoutMismatch, Record: record,
			Pos: first, Want: stored}
		return fw.err
	}
	fw.write(record, data)
	return fw.err
}

// visitMethods walks a class def's methods the way the container declares
// them: direct methods first in member-index order, then virtual methods.
// It stops at the first error.
func visitMethods(cd *dex.ClassDef, visit func(classDefMethodIndex int, m *dex.Method, isStatic, isDirect bool) error) error {
	if cd.Data == nil {
		return nil
	}
	index := 0
	for i := range cd.Data.DirectMethods {
		m := &cd.Data.DirectMethods[i]
		if err := visit(index, m, m.IsStatic(), true); err != nil {
			return err
		}
		index++
	}
	for i := range cd.Data.VirtualMethods {
		m := &cd.Data.VirtualMethods[i]
		if err := visit(index, m, false, false); err != nil {
			return err
		}
		index++
	}
	return nil
}

// roundUp rounds x up to the next multiple of align, a power of two.
func roundUp(x, align uint32) uint32 {
	return (x + align - 1) &^ (align - 1)
}
