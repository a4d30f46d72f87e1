// Command oatgen writes an OAT container from a JSON manifest describing
// input class containers and their compiled artifacts. It stands in for the
// full AOT pipeline where the container parser and compiler back end live;
// the manifest supplies what those would.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/xyproto/env/v2"

	"github.com/motorola-defy-lineageos/android-art/internal/compiler"
	"github.com/motorola-defy-lineageos/android-art/internal/dex"
	"github.com/motorola-defy-lineageos/android-art/internal/oat"
)

// Flags. OATGEN_ISA and OATGEN_VERBOSE provide environment defaults.
var (
	output     = flag.String("o", "", "Output OAT file")
	isaName    = flag.String("isa", env.Str("OATGEN_ISA", "arm"), "Instruction set (arm, thumb2, x86)")
	image      = flag.Bool("image", false, "Image build: report per-method layout write-back")
	emitLayout = flag.Bool("emit-layout", false, "Output computed layout as JSON")
	verbose    = flag.Bool("verbose", env.Bool("OATGEN_VERBOSE"), "Verbose output")
	version    = flag.Bool("version", false, "Print version")
)

const Version = "0.1.0-dev"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "oatgen %s\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: oatgen [options] <manifest.json>\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *version {
		fmt.Printf("oatgen version %s\n", Version)
		fmt.Printf("go version %s\n", runtime.Version())
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "error: no manifest file")
		fmt.Fprintln(os.Stderr, "usage: oatgen [options] <manifest.json>")
		os.Exit(1)
	}
	if *output == "" && !*emitLayout {
		fmt.Fprintln(os.Stderr, "error: no output file (use -o, or -emit-layout)")
		os.Exit(1)
	}

	os.Exit(run(args[0], *output))
}

// run generates the OAT file (and/or the layout dump) for one manifest.
func run(manifestPath, outputPath string) int {
	isa, err := parseISA(*isaName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	m, err := loadManifest(manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	files := m.buildDexFiles()
	c, err := newManifestCompiler(m, files, isa, *image)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	var patcher *reportingPatcher
	if *image {
		patcher = &reportingPatcher{}
	}

	w, err := oat.NewWriter(files, c, patcherOrNil(patcher))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	if *verbose {
		fmt.Fprintf(os.Stderr, "-> %d dex files, %s, executable section at %#x, checksum %#x\n",
			len(files), isa, w.ExecutableOffset(), w.Checksum())
		if patcher != nil {
			fmt.Fprintf(os.Stderr, "-> image build: %d methods patched\n", patcher.patched)
		}
	}

	if *emitLayout {
		if err := dumpLayout(os.Stdout, w, files); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
	}
	if outputPath == "" {
		return 0
	}

	f, err := os.Create(outputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if err := w.Write(f); err != nil {
		f.Close()
		os.Remove(outputPath)
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if err := syncFile(f); err != nil {
		f.Close()
		fmt.Fprintf(os.Stderr, "error: sync %s: %v\n", outputPath, err)
		return 1
	}
	if err := f.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "error: close %s: %v\n", outputPath, err)
		return 1
	}

	if *verbose {
		fmt.Fprintf(os.Stderr, "-> wrote %s\n", outputPath)
	}
	return 0
}

func parseISA(name string) (compiler.InstructionSet, error) {
	switch name {
	case "arm":
		return compiler.Arm, nil
	case "thumb2":
		return compiler.Thumb2, nil
	case "x86":
		return compiler.X86, nil
	}
	return compiler.None, fmt.Errorf("unknown instruction set %q", name)
}

// reportingPatcher is the CLI's runtime-patcher stand-in: there is no live
// runtime to patch, so it only counts the write-backs for reporting.
type reportingPatcher struct {
	patched int
}

func (p *reportingPatcher) SetMethodOatInfo(f *dex.File, methodIndex uint32, isDirect bool, layout oat.MethodLayout) {
	p.patched++
}

// patcherOrNil avoids handing the writer a non-nil interface holding a nil
// pointer.
func patcherOrNil(p *reportingPatcher) oat.RuntimePatcher {
	if p == nil {
		return nil
	}
	return p
}

// layoutDump is the -emit-layout JSON shape.
type layoutDump struct {
	Checksum         uint32          `json:"checksum"`
	ExecutableOffset uint32          `json:"executableOffset"`
	DexFiles         []layoutDexFile `json:"dexFiles"`
}

type layoutDexFile struct {
	Location  string               `json:"location"`
	ClassDefs [][]oat.MethodLayout `json:"classDefs"`
}

func dumpLayout(w *os.File, writer *oat.Writer, files []*dex.File) error {
	dump := layoutDump{
		Checksum:         writer.Checksum(),
		ExecutableOffset: writer.ExecutableOffset(),
	}
	for i, f := range files {
		df := layoutDexFile{Location: f.Location}
		for c := range f.ClassDefs {
			df.ClassDefs = append(df.ClassDefs, writer.MethodLayouts(i, c))
		}
		dump.DexFiles = append(dump.DexFiles, df)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(dump)
}
