// Command redirects patches the kernel image so that calls to selected Go
// runtime functions jump to kernel-provided replacements. Replacements are
// marked with a "//go:redirect-from runtime.fn" comment.
//
// Usage:
//
//	redirects list
//	redirects count
//	redirects populate-table KERNEL_IMAGE
//
// The tool must be run from the module root.
package main

import (
	"bufio"
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const (
	redirectDirective = "//go:redirect-from"
	redirectSection   = ".goredirectstbl"

	// each table entry holds the source and destination addresses.
	tableEntrySize = 16
)

type redirect struct {
	src string
	dst string

	srcVMA uint64
	dstVMA uint64
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[redirects] error: %s\n", err.Error())
	os.Exit(1)
}

// modulePath returns the module path declared in the go.mod file at
// goModFile. Symbol names in the kernel image are prefixed with it.
func modulePath(goModFile string) (string, error) {
	f, err := os.Open(goModFile)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && fields[0] == "module" {
			return strings.Trim(fields[1], `"`), nil
		}
	}

	if err := scanner.Err(); err != nil {
		return "", err
	}

	return "", fmt.Errorf("%s: missing module directive", goModFile)
}

// collectGoFiles returns the non-test Go sources below root.
func collectGoFiles(root string) ([]string, error) {
	var goFiles []string

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.IsDir():
			return nil
		case filepath.Ext(p) == ".go" && !strings.HasSuffix(p, "_test.go"):
			goFiles = append(goFiles, p)
		}
		return nil
	})

	return goFiles, err
}

// findRedirects parses goFiles and returns one redirect for every function
// carrying a redirect directive. Destination symbols are qualified with
// prefix and the package directory of the file.
func findRedirects(prefix string, goFiles []string) ([]*redirect, error) {
	var redirects []*redirect

	for _, goFile := range goFiles {
		fset := token.NewFileSet()
		f, err := parser.ParseFile(fset, goFile, nil, parser.ParseComments)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", goFile, err)
		}

		pkgPath := path.Join(prefix, filepath.ToSlash(filepath.Dir(goFile)))

		for _, decl := range f.Decls {
			fnDecl, ok := decl.(*ast.FuncDecl)
			if !ok || fnDecl.Doc == nil || fnDecl.Recv != nil {
				continue
			}

			dst := pkgPath + "." + fnDecl.Name.Name
			for _, comment := range fnDecl.Doc.List {
				src, found, err := parseDirective(comment.Text)
				switch {
				case err != nil:
					return nil, fmt.Errorf("%s: %s: %w", fset.Position(comment.Pos()), dst, err)
				case found:
					redirects = append(redirects, &redirect{src: src, dst: dst})
				}
			}
		}
	}

	return redirects, nil
}

// parseDirective extracts the redirected symbol from a comment line. The
// second result is false if the comment is not a redirect directive.
func parseDirective(text string) (string, bool, error) {
	if !strings.HasPrefix(text, redirectDirective) {
		return "", false, nil
	}

	fields := strings.Fields(text)
	if len(fields) != 2 || fields[0] != redirectDirective {
		return "", false, errors.New("malformed go:redirect-from syntax")
	}

	return fields[1], true, nil
}

// resolveSymbols fills in the addresses of every redirect from the ELF
// symbol table of img.
func resolveSymbols(redirects []*redirect, img *elf.File) error {
	symbols, err := img.Symbols()
	if err != nil {
		return err
	}

	addrs := make(map[string]uint64, len(symbols))
	for _, sym := range symbols {
		addrs[sym.Name] = sym.Value
	}

	for _, r := range redirects {
		r.srcVMA, r.dstVMA = addrs[r.src], addrs[r.dst]

		switch {
		case r.srcVMA == 0:
			return fmt.Errorf("could not locate address of %q", r.src)
		case r.dstVMA == 0:
			return fmt.Errorf("could not locate address of %q", r.dst)
		}
	}

	return nil
}

// encodeTable serializes redirects in the layout expected by the boot code.
func encodeTable(redirects []*redirect) []byte {
	var buf bytes.Buffer
	for _, r := range redirects {
		binary.Write(&buf, binary.LittleEndian, r.srcVMA)
		binary.Write(&buf, binary.LittleEndian, r.dstVMA)
	}
	return buf.Bytes()
}

// populateTable resolves redirects against imgFile and writes the resulting
// table into its redirect section.
func populateTable(redirects []*redirect, imgFile string) error {
	img, err := elf.Open(imgFile)
	if err != nil {
		return err
	}
	defer img.Close()

	if img.Machine != elf.EM_RISCV || img.Class != elf.ELFCLASS64 {
		return fmt.Errorf("%s: not a riscv64 image (%s, %s)", imgFile, img.Machine, img.Class)
	}

	section := img.Section(redirectSection)
	if section == nil {
		return fmt.Errorf("%s: missing %s section", imgFile, redirectSection)
	}

	if need := uint64(len(redirects) * tableEntrySize); need > section.Size {
		return fmt.Errorf("%s: %s section holds %d bytes; %d redirects need %d", imgFile, redirectSection, section.Size, len(redirects), need)
	}

	if err = resolveSymbols(redirects, img); err != nil {
		return fmt.Errorf("%s: %w", imgFile, err)
	}

	f, err := os.OpenFile(imgFile, os.O_WRONLY, 0)
	if err != nil {
		return err
	}

	if _, err = f.WriteAt(encodeTable(redirects), int64(section.Offset)); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

func run() error {
	flag.Parse()

	if info, err := os.Stat("kernel"); err != nil || !info.IsDir() {
		return errors.New("this tool must be run from the module root folder")
	}

	var imgFile string
	switch cmd := flag.Arg(0); cmd {
	case "":
		return errors.New("missing command")
	case "count", "list":
	case "populate-table":
		if flag.NArg() != 2 {
			return errors.New("populate-table requires the path to the kernel image as an argument")
		}
		imgFile = flag.Arg(1)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}

	prefix, err := modulePath("go.mod")
	if err != nil {
		return err
	}

	goFiles, err := collectGoFiles("kernel")
	if err != nil {
		return err
	}

	redirects, err := findRedirects(prefix, goFiles)
	if err != nil {
		return err
	}

	switch flag.Arg(0) {
	case "count":
		fmt.Printf("%d", len(redirects))
	case "list":
		for _, r := range redirects {
			fmt.Printf("%s -> %s\n", r.src, r.dst)
		}
	default:
		return populateTable(redirects, imgFile)
	}

	return nil
}

func main() {
	if err := run(); err != nil {
		exit(err)
	}
}
