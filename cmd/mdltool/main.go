// mdltool is a CLI utility for inspecting and generating binary model files.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Faultbox/maple/pkg/formats"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "info":
		cmdInfo(args)
	case "tree":
		cmdTree(args)
	case "validate", "check":
		cmdValidate(args)
	case "pack":
		cmdPack(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`mdltool - binary model file utility

Usage:
  mdltool <command> [options]

Commands:
  info <file.mdl>                      Show section counts and blob reference
  tree <file.mdl>                      Print the node hierarchy
  validate <file.mdl> [blob]           Check structure and blob bounds
  pack <out.mdl> <blob-name> <prims>   Write a sample quad model and its blob

Examples:
  mdltool info assets/models/sample.mdl
  mdltool tree assets/models/sample.mdl
  mdltool validate assets/models/sample.mdl
  mdltool pack assets/models/sample.mdl sample.bin 4`)
}

func readModel(path string) *formats.Model {
	data, err := os.ReadFile(path)
	if err != nil {
		fail(err)
	}
	m, err := formats.ParseModel(data)
	if err != nil {
		fail(fmt.Errorf("%s: %w", path, err))
	}
	return m
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func cmdInfo(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: mdltool info <file.mdl>")
		os.Exit(1)
	}
	m := readModel(args[0])

	var indexBytes, vertexBytes uint64
	var skinned int
	for i := range m.Primitives {
		p := &m.Primitives[i]
		indexBytes += p.IndexBytes()
		vertexBytes += p.VertexBytes()
		if p.Skinned {
			skinned++
		}
	}

	fmt.Printf("Model:      %s\n", args[0])
	fmt.Printf("Blob:       %s\n", m.BinaryFile)
	fmt.Printf("Primitives: %d (%d skinned)\n", len(m.Primitives), skinned)
	fmt.Printf("Meshes:     %d\n", len(m.Meshes))
	fmt.Printf("Nodes:      %d\n", len(m.Nodes))
	fmt.Printf("Scenes:     %d (%d roots)\n", len(m.Scenes), len(m.RootNodes()))
	fmt.Printf("Index data: %d bytes\n", indexBytes)
	fmt.Printf("Vertex data: %d bytes\n", vertexBytes)
}

func cmdTree(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: mdltool tree <file.mdl>")
		os.Exit(1)
	}
	m := readModel(args[0])

	var walk func(idx int32, depth int)
	walk = func(idx int32, depth int) {
		n := &m.Nodes[idx]
		line := fmt.Sprintf("%s[%d] %s", strings.Repeat("  ", depth), idx, n.Name)
		if n.Mesh != formats.NoIndex {
			mesh := &m.Meshes[n.Mesh]
			line += fmt.Sprintf("  mesh=%q prims=%d", mesh.Name, len(mesh.Primitives))
		}
		fmt.Println(line)
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}

	for i, s := range m.Scenes {
		fmt.Printf("scene %d\n", i)
		for _, r := range s.Roots {
			walk(r, 1)
		}
	}
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	quiet := fs.Bool("q", false, "Only report failures")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: mdltool validate [-q] <file.mdl> [blob]")
		os.Exit(1)
	}
	path := fs.Arg(0)
	m := readModel(path)

	blob := filepath.Join(filepath.Dir(path), m.BinaryFile)
	if fs.NArg() > 1 {
		blob = fs.Arg(1)
	}
	info, err := os.Stat(blob)
	if err != nil {
		fail(err)
	}
	if err := m.ValidateBlob(uint64(info.Size())); err != nil {
		fail(fmt.Errorf("%s: %w", blob, err))
	}

	if !*quiet {
		fmt.Printf("%s: ok (%d primitives, blob %d bytes)\n", path, len(m.Primitives), info.Size())
	}
}

func cmdPack(args []string) {
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: mdltool pack <out.mdl> <blob-name> <prims>")
		os.Exit(1)
	}
	out, blobName := args[0], args[1]
	prims, err := strconv.Atoi(args[2])
	if err != nil || prims < 1 {
		fail(fmt.Errorf("prims must be a positive integer, got %q", args[2]))
	}

	m, blob := formats.SampleModel(blobName, prims)
	data, err := m.MarshalBinary()
	if err != nil {
		fail(err)
	}

	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		fail(err)
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		fail(err)
	}
	blobPath := filepath.Join(filepath.Dir(out), blobName)
	if err := os.WriteFile(blobPath, blob, 0644); err != nil {
		fail(err)
	}

	fmt.Printf("Wrote %s (%d bytes) and %s (%d bytes)\n", out, len(data), blobPath, len(blob))
}
