package oat

import (
	"encoding/binary"

	"github.com/motorola-defy-lineageos/android-art/internal/dex"
)

// MethodLayout is one methods-table record: where a method's compiled
// artifacts live in the file, plus its frame metadata. Offsets are absolute
// file offsets; 0 means the artifact is absent. Seven little-endian 32-bit
// words on disk.
type MethodLayout struct {
	CodeOffset         uint32
	FrameSizeInBytes   uint32
	CoreSpillMask      uint32
	FpSpillMask        uint32
	MappingTableOffset uint32
	VmapTableOffset    uint32
	InvokeStubOffset   uint32
}

// methodLayoutSize is the on-disk size of one MethodLayout record.
const methodLayoutSize = 7 * 4

func (l *MethodLayout) appendTo(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, l.CodeOffset)
	b = binary.LittleEndian.AppendUint32(b, l.FrameSizeInBytes)
	b = binary.LittleEndian.AppendUint32(b, l.CoreSpillMask)
	b = binary.LittleEndian.AppendUint32(b, l.FpSpillMask)
	b = binary.LittleEndian.AppendUint32(b, l.MappingTableOffset)
	b = binary.LittleEndian.AppendUint32(b, l.VmapTableOffset)
	b = binary.LittleEndian.AppendUint32(b, l.InvokeStubOffset)
	return b
}

// oatDexFile is the per-input descriptor: location string, the input's own
// checksum, and the offset of its class table.
type oatDexFile struct {
	location      string
	checksum      uint32
	classesOffset uint32
}

func newOatDexFile(f *dex.File) *oatDexFile {
	return &oatDexFile{
		location: f.Location,
		checksum: f.Checksum,
	}
}

func (d *oatDexFile) sizeOf() uint32 {
	return 4 + uint32(len(d.location)) + 4 + 4
}

func (d *oatDexFile) encode() []byte {
	b := make([]byte, 0, d.sizeOf())
	b = binary.LittleEndian.AppendUint32(b, uint32(len(d.location)))
	b = append(b, d.location...)
	b = binary.LittleEndian.AppendUint32(b, d.checksum)
	b = binary.LittleEndian.AppendUint32(b, d.classesOffset)
	return b
}

func (d *oatDexFile) updateChecksum(h *Header) {
	h.UpdateChecksum(d.encode())
}

func (d *oatDexFile) write(w *fileWriter) {
	w.setInput(d.location)
	w.writeUint32("dex file location length", uint32(len(d.location)))
	w.write("dex file location data", []byte(d.location))
	w.writeUint32("dex file checksum", d.checksum)
	w.writeUint32("dex file classes offset", d.classesOffset)
}

// oatClasses is the per-input class table: one methods-table offset per
// class definition.
type oatClasses struct {
	location       string
	methodsOffsets []uint32
}

func newOatClasses(f *dex.File) *oatClasses {
	return &oatClasses{
		location:       f.Location,
		methodsOffsets: make([]uint32, f.NumClassDefs()),
	}
}

func (c *oatClasses) sizeOf() uint32 {
	return 4 * uint32(len(c.methodsOffsets))
}

func (c *oatClasses) encode() []byte {
	return encodeUint32s(c.methodsOffsets)
}

func (c *oatClasses) updateChecksum(h *Header) {
	h.UpdateChecksum(c.encode())
}

func (c *oatClasses) write(w *fileWriter) {
	w.setInput(c.location)
	w.write("methods offsets", c.encode())
}

// oatMethods is one class definition's methods table.
type oatMethods struct {
	location string
	layouts  []MethodLayout
}

func newOatMethods(location string, methodCount int) *oatMethods {
	return &oatMethods{
		location: location,
		layouts:  make([]MethodLayout, methodCount),
	}
}

func (m *oatMethods) sizeOf() uint32 {
	return methodLayoutSize * uint32(len(m.layouts))
}

func (m *oatMethods) encode() []byte {
	b := make([]byte, 0, m.sizeOf())
	for i := range m.layouts {
		b = m.layouts[i].appendTo(b)
	}
	return b
}

func (m *oatMethods) updateChecksum(h *Header) {
	h.UpdateChecksum(m.encode())
}

func (m *oatMethods) write(w *fileWriter) {
	w.setInput(m.location)
	w.write("method offsets", m.encode())
}

// encodeUint32s returns the little-endian byte encoding of vs, which is both
// the on-disk form of a mapping table and its deduplication key.
func encodeUint32s(vs []uint32) []byte {
	b := make([]byte, 0, 4*len(vs))
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint32(b, v)
	}
	return b
}

// encodeUint16s is the little-endian byte encoding of a vmap table.
func encodeUint16s(vs []uint16) []byte {
	b := make([]byte, 0, 2*len(vs))
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint16(b, v)
	}
	return b
}
