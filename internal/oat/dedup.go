package oat

// dedupMap assigns one offset to each distinct byte sequence. Keys are the
// sequence contents, so equal compiler outputs collapse to a single physical
// copy whether or not the compiler interned its buffers. The map only grows.
type dedupMap map[string]uint32

// lookupOrInsert returns the offset assigned to key. On first sight it
// records offset and reports inserted; the caller then advances the layout
// cursor and checksums the bytes. On a hit neither happens.
func (m dedupMap) lookupOrInsert(key []byte, offset uint32) (uint32, bool) {
	if prev, ok := m[string(key)]; ok {
		return prev, false
	}
	m[string(key)] = offset
	return offset, true
}

// dedupIndex holds the three deduplication maps of a writer. Method code and
// invoke stubs share one map so a stub that happens to match a method body
// (or another stub) reuses its bytes; mapping and vmap tables are keyed
// separately even when their encodings coincide.
type dedupIndex struct {
	code          dedupMap
	mappingTables dedupMap
	vmapTables    dedupMap
}

func newDedupIndex() *dedupIndex {
	return &dedupIndex{
		code:          make(dedupMap),
		mappingTables: make(dedupMap),
		vmapTables:    make(dedupMap),
	}
}
