package oat

import (
	"encoding/binary"
	"hash"
	"hash/adler32"
)

// Header magic and format version.
var (
	oatMagic   = [4]byte{'o', 'a', 't', '\n'}
	oatVersion = [4]byte{'0', '0', '1', 0}
)

// headerSize is the on-disk size of the fixed prelude:
// magic, version, checksum, input count, executable offset.
const headerSize = 4 + 4 + 4 + 4 + 4

// Header is the fixed prelude of an OAT file. It owns the rolling checksum
// over the file's logical contents, which every record feeds during layout.
type Header struct {
	adler            hash.Hash32
	dexFileCount     uint32
	executableOffset uint32
}

// NewHeader returns a header for an output holding dexFileCount inputs. The
// checksum is seeded with the prelude identity (magic, version, input count)
// so containers with different shapes diverge from the first byte.
func NewHeader(dexFileCount int) *Header {
	h := &Header{
		adler:        adler32.New(),
		dexFileCount: uint32(dexFileCount),
	}
	h.UpdateChecksum(oatMagic[:])
	h.UpdateChecksum(oatVersion[:])
	h.UpdateChecksumUint32(h.dexFileCount)
	return h
}

// UpdateChecksum folds p into the rolling checksum. Order matters; there is
// no reset.
func (h *Header) UpdateChecksum(p []byte) {
	h.adler.Write(p)
}

// UpdateChecksumUint32 folds the little-endian encoding of v into the rolling
// checksum.
func (h *Header) UpdateChecksumUint32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	h.UpdateChecksum(buf[:])
}

// Checksum returns the current rolling checksum value.
func (h *Header) Checksum() uint32 {
	return h.adler.Sum32()
}

// SetExecutableOffset records where the page-aligned executable section
// starts.
func (h *Header) SetExecutableOffset(offset uint32) {
	h.executableOffset = offset
}

// ExecutableOffset returns the file offset of the executable section.
func (h *Header) ExecutableOffset() uint32 {
	return h.executableOffset
}

func (h *Header) sizeOf() uint32 {
	return headerSize
}

func (h *Header) write(w *fileWriter) {
	w.write("oat header magic", oatMagic[:])
	w.write("oat header version", oatVersion[:])
	w.writeUint32("oat header checksum", h.Checksum())
	w.writeUint32("oat header dex file count", h.dexFileCount)
	w.writeUint32("oat header executable offset", h.executableOffset)
}
