// Package oat writes an ahead-of-time compilation container: the compiled
// code and side tables for a set of input class containers, laid out so the
// runtime can map the executable tail of the file directly.
//
// The writer runs in two passes. Construction walks every input and assigns
// a file offset to each structural record and each compiled artifact,
// deduplicating identical code and side tables and folding every logical
// byte into a rolling checksum. Write then streams the bytes out, re-derives
// the offsets by the same procedure, and fails if the file position ever
// disagrees with what layout computed.
//
// On-disk format, little-endian throughout:
//
//	header:
//	    magic             [4]byte  "oat\n"
//	    version           [4]byte  "001\0"
//	    checksum          uint32   rolling adler-32 over the logical contents
//	    dexFileCount      uint32
//	    executableOffset  uint32   page-aligned start of the executable section
//	for each input:
//	    locationLen       uint32
//	    location          [locationLen]byte
//	    checksum          uint32   the input container's own checksum
//	    classesOffset     uint32   offset of this input's class table
//	for each input:
//	    methodsOffset     [numClassDefs]uint32
//	for each class def:
//	    MethodLayout      [numMethods]{7 x uint32}
//	padding to executableOffset
//	for each class def, for each method (directs in member-index order, then
//	virtuals):
//	    alignment padding                     (every compiled method)
//	    method code                           (first occurrence only)
//	    frameSizeInBytes, coreSpillMask, fpSpillMask  (uint32 each, always)
//	    mapping table                         (first occurrence only)
//	    vmap table                            (first occurrence only)
//	    alignment padding                     (every method with a stub)
//	    invoke stub                           (first occurrence only)
//
// A MethodLayout offset of 0 means the artifact is absent. Deduplicated
// artifacts appear in the file once; every method sharing the bytes stores
// the same offset. Thumb code offsets carry a +1 bit while the code itself
// sits at the aligned file position.
//
// The rolling checksum is seeded with the header's magic, version and input
// count, then fed, in order: each input descriptor (once its classes offset
// is known), each input's class table, and then per class def the method
// code, frame words, mapping and vmap tables and invoke stubs (first
// occurrences only) followed by that class def's completed methods table.
package oat
