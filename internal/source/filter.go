package source

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/bpf"
)

// Filter is a classic BPF program evaluated in userspace.
type Filter struct {
	raw []bpf.RawInstruction
	vm  *bpf.VM
}

// NewFilter assembles a program and prepares it for execution.
func NewFilter(raw []bpf.RawInstruction) (*Filter, error) {
	insns, ok := bpf.Disassemble(raw)
	if !ok {
		return nil, fmt.Errorf("bpf program contains instructions that cannot be decoded")
	}
	vm, err := bpf.NewVM(insns)
	if err != nil {
		return nil, fmt.Errorf("invalid bpf program: %w", err)
	}
	return &Filter{raw: raw, vm: vm}, nil
}

// LoadFilter reads a compiled filter. Files ending in .json hold an array of
// {"op","jt","jf","k"} objects; anything else is `tcpdump -ddd` output.
func LoadFilter(path string) (*Filter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read filter file %s: %w", path, err)
	}

	var raw []bpf.RawInstruction
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &raw)
	} else {
		raw, err = parseDecimal(data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse filter file %s: %w", path, err)
	}
	return NewFilter(raw)
}

// parseDecimal reads the instruction count followed by one "op jt jf k" line
// per instruction.
func parseDecimal(data []byte) ([]bpf.RawInstruction, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	var n int
	var raw []bpf.RawInstruction
	first := true
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if first {
			if _, err := fmt.Sscanf(line, "%d", &n); err != nil {
				return nil, fmt.Errorf("instruction count: %w", err)
			}
			first = false
			continue
		}
		var ri bpf.RawInstruction
		if _, err := fmt.Sscanf(line, "%d %d %d %d", &ri.Op, &ri.Jt, &ri.Jf, &ri.K); err != nil {
			return nil, fmt.Errorf("instruction %d: %w", len(raw), err)
		}
		raw = append(raw, ri)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(raw) != n {
		return nil, fmt.Errorf("expected %d instructions, found %d", n, len(raw))
	}
	return raw, nil
}

// Match reports whether the program accepts the frame.
func (f *Filter) Match(frame []byte) bool {
	n, err := f.vm.Run(frame)
	return err == nil && n > 0
}

// Raw returns the program for in-kernel attachment.
func (f *Filter) Raw() []bpf.RawInstruction {
	return f.raw
}
