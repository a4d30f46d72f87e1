package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/motorola-defy-lineageos/android-art/internal/compiler"
	"github.com/motorola-defy-lineageos/android-art/internal/dex"
)

// A manifest describes the inputs of one OAT generation run: the class
// containers and the compiled artifacts the writer would normally receive
// from the container parser and the compiler back end.
type manifest struct {
	DexFiles    []manifestDexFile `json:"dexFiles"`
	Methods     []manifestMethod  `json:"methods"`
	InvokeStubs []manifestStub    `json:"invokeStubs"`
}

type manifestDexFile struct {
	Location  string             `json:"location"`
	Checksum  uint32             `json:"checksum"`
	ClassDefs []manifestClassDef `json:"classDefs"`
}

type manifestClassDef struct {
	// Empty marks a class def with no class data (a marker interface).
	Empty          bool                `json:"empty,omitempty"`
	DirectMethods  []manifestMethodRef `json:"directMethods,omitempty"`
	VirtualMethods []manifestMethodRef `json:"virtualMethods,omitempty"`
}

type manifestMethodRef struct {
	MethodIndex uint32 `json:"methodIndex"`
	AccessFlags uint32 `json:"accessFlags"`
	Shorty      string `json:"shorty"`
}

type manifestMethod struct {
	DexFile          int      `json:"dexFile"`
	MethodIndex      uint32   `json:"methodIndex"`
	Code             string   `json:"code"` // hex
	FrameSizeInBytes uint32   `json:"frameSizeInBytes"`
	CoreSpillMask    uint32   `json:"coreSpillMask"`
	FpSpillMask      uint32   `json:"fpSpillMask"`
	MappingTable     []uint32 `json:"mappingTable,omitempty"`
	VmapTable        []uint16 `json:"vmapTable,omitempty"`
}

type manifestStub struct {
	Static bool   `json:"static"`
	Shorty string `json:"shorty"`
	Code   string `json:"code"` // hex
}

// loadManifest reads and validates a manifest file.
func loadManifest(path string) (*manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	return &m, nil
}

func (m *manifest) validate() error {
	if len(m.DexFiles) == 0 {
		return fmt.Errorf("no dex files")
	}
	for i, df := range m.DexFiles {
		if df.Location == "" {
			return fmt.Errorf("dex file %d: empty location", i)
		}
		for c, cd := range df.ClassDefs {
			if cd.Empty && (len(cd.DirectMethods) != 0 || len(cd.VirtualMethods) != 0) {
				return fmt.Errorf("dex file %d class def %d: empty class def lists methods", i, c)
			}
			for _, ref := range cd.DirectMethods {
				if !dex.ValidShorty(ref.Shorty) {
					return fmt.Errorf("dex file %d class def %d: method %d has invalid shorty %q",
						i, c, ref.MethodIndex, ref.Shorty)
				}
			}
			for _, ref := range cd.VirtualMethods {
				if !dex.ValidShorty(ref.Shorty) {
					return fmt.Errorf("dex file %d class def %d: method %d has invalid shorty %q",
						i, c, ref.MethodIndex, ref.Shorty)
				}
				if ref.AccessFlags&dex.AccStatic != 0 {
					return fmt.Errorf("dex file %d class def %d: virtual method %d is static",
						i, c, ref.MethodIndex)
				}
			}
		}
	}
	for i, cm := range m.Methods {
		if cm.DexFile < 0 || cm.DexFile >= len(m.DexFiles) {
			return fmt.Errorf("method entry %d: dex file %d out of range", i, cm.DexFile)
		}
	}
	for i, stub := range m.InvokeStubs {
		if !dex.ValidShorty(stub.Shorty) {
			return fmt.Errorf("invoke stub %d: invalid shorty %q", i, stub.Shorty)
		}
	}
	return nil
}

// buildDexFiles converts the manifest containers into the writer's input
// model.
func (m *manifest) buildDexFiles() []*dex.File {
	files := make([]*dex.File, len(m.DexFiles))
	for i, df := range m.DexFiles {
		f := &dex.File{Location: df.Location, Checksum: df.Checksum}
		for _, cd := range df.ClassDefs {
			if cd.Empty {
				f.ClassDefs = append(f.ClassDefs, dex.ClassDef{})
				continue
			}
			data := &dex.ClassData{}
			for _, ref := range cd.DirectMethods {
				data.DirectMethods = append(data.DirectMethods, dex.Method{
					Index: ref.MethodIndex, AccessFlags: ref.AccessFlags, Shorty: ref.Shorty,
				})
			}
			for _, ref := range cd.VirtualMethods {
				data.VirtualMethods = append(data.VirtualMethods, dex.Method{
					Index: ref.MethodIndex, AccessFlags: ref.AccessFlags, Shorty: ref.Shorty,
				})
			}
			f.ClassDefs = append(f.ClassDefs, dex.ClassDef{Data: data})
		}
		files[i] = f
	}
	return files
}

// manifestCompiler serves compiled artifacts out of a manifest. Code buffers
// are interned per distinct hex string, so identical outputs share a backing
// array the way a real compiler's cache hands them out.
type manifestCompiler struct {
	isa     compiler.InstructionSet
	image   bool
	methods map[methodKey]*compiler.CompiledMethod
	stubs   map[stubKey]*compiler.CompiledInvokeStub
}

type methodKey struct {
	file  *dex.File
	index uint32
}

type stubKey struct {
	isStatic bool
	shorty   string
}

// newManifestCompiler resolves the manifest's artifact entries against the
// built dex files.
func newManifestCompiler(m *manifest, files []*dex.File, isa compiler.InstructionSet, image bool) (*manifestCompiler, error) {
	mc := &manifestCompiler{
		isa:     isa,
		image:   image,
		methods: make(map[methodKey]*compiler.CompiledMethod),
		stubs:   make(map[stubKey]*compiler.CompiledInvokeStub),
	}
	interned := make(map[string][]byte)
	intern := func(hexCode string) ([]byte, error) {
		if code, ok := interned[hexCode]; ok {
			return code, nil
		}
		code, err := hex.DecodeString(hexCode)
		if err != nil {
			return nil, err
		}
		interned[hexCode] = code
		return code, nil
	}

	for i, cm := range m.Methods {
		code, err := intern(cm.Code)
		if err != nil {
			return nil, fmt.Errorf("method entry %d: bad code hex: %v", i, err)
		}
		key := methodKey{files[cm.DexFile], cm.MethodIndex}
		if _, ok := mc.methods[key]; ok {
			return nil, fmt.Errorf("method entry %d: duplicate method %d of %s",
				i, cm.MethodIndex, files[cm.DexFile].Location)
		}
		mc.methods[key] = &compiler.CompiledMethod{
			ISA:              isa,
			Code:             code,
			FrameSizeInBytes: cm.FrameSizeInBytes,
			CoreSpillMask:    cm.CoreSpillMask,
			FpSpillMask:      cm.FpSpillMask,
			MappingTable:     cm.MappingTable,
			VmapTable:        cm.VmapTable,
		}
	}
	for i, stub := range m.InvokeStubs {
		code, err := intern(stub.Code)
		if err != nil {
			return nil, fmt.Errorf("invoke stub %d: bad code hex: %v", i, err)
		}
		key := stubKey{stub.Static, stub.Shorty}
		if _, ok := mc.stubs[key]; ok {
			return nil, fmt.Errorf("invoke stub %d: duplicate stub for %q static=%v",
				i, stub.Shorty, stub.Static)
		}
		mc.stubs[key] = &compiler.CompiledInvokeStub{ISA: isa, Code: code}
	}
	return mc, nil
}

func (c *manifestCompiler) GetCompiledMethod(ref compiler.MethodReference) *compiler.CompiledMethod {
	return c.methods[methodKey{ref.File, ref.MethodIndex}]
}

func (c *manifestCompiler) FindInvokeStub(isStatic bool, shorty string) *compiler.CompiledInvokeStub {
	return c.stubs[stubKey{isStatic, shorty}]
}

func (c *manifestCompiler) InstructionSet() compiler.InstructionSet { return c.isa }
func (c *manifestCompiler) IsImage() bool                           { return c.image }
