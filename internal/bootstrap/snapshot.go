package bootstrap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/blang/semver"

	"github.com/lumen-lang/lumen/internal/gc"
	"github.com/lumen-lang/lumen/internal/value"
)

// Snapshot file format
// ====================
//
// Header (8 bytes):
//   - Magic number: "LMSN" (4 bytes)
//   - Version: major/minor/patch, one byte each (semver.Version, truncated
//     to uint8 components — snapshots are not expected to need a 64-bit
//     prerelease/build-metadata component)
//   - Reserved: 1 byte
//
// Body: a uint32 namespace count, then that many namespace sections, each:
//   - Namespace name: string (length-prefixed)
//   - Var count: uint32
//   - Vars: each a (name, tagged scalar value) pair
//
// Only scalar Vars (nil, bool, integer, float, char, string) are captured.
// A Var rooted at a closure, builtin, atom, or other heap-structured value
// is left out of the snapshot without any diagnostic, matching the
// snapshot's purpose: restoring
// named constants and configuration across process restarts, not a full
// heap image.

const (
	magicNumber = "LMSN"
)

var currentVersion = semver.Version{Major: 1, Minor: 0, Patch: 0}

// scalarTag discriminates which Value constructor a snapshot's tagged
// payload decodes through; this is independent of value.Value's own
// internal NaN-boxing tag bits, which are not a stable on-disk format.
type scalarTag uint8

const (
	tagNilScalar scalarTag = iota
	tagBoolScalar
	tagIntScalar
	tagFloatScalar
	tagCharScalar
	tagStringScalar
)

// Snapshotter writes and reads Runtime namespace state to the binary
// format above.
type Snapshotter struct {
	heap *gc.Heap
}

// NewSnapshotter builds a snapshotter bound to heap, used to allocate
// string Values on load.
func NewSnapshotter(heap *gc.Heap) *Snapshotter {
	return &Snapshotter{heap: heap}
}

// Save writes every namespace's scalar Vars to w.
func (s *Snapshotter) Save(w io.Writer, rt *Runtime) error {
	buf := new(bytes.Buffer)
	if err := s.writeHeader(buf); err != nil {
		return fmt.Errorf("bootstrap: snapshot header: %w", err)
	}

	rt.mu.RLock()
	names := make([]string, 0, len(rt.namespaces))
	for name := range rt.namespaces {
		names = append(names, name)
	}
	nsSnapshot := make(map[string]*Namespace, len(rt.namespaces))
	for _, name := range names {
		nsSnapshot[name] = rt.namespaces[name]
	}
	rt.mu.RUnlock()

	if err := writeUint32(buf, uint32(len(names))); err != nil {
		return err
	}
	for _, name := range names {
		if err := s.writeNamespace(buf, name, nsSnapshot[name]); err != nil {
			return fmt.Errorf("bootstrap: snapshot namespace %s: %w", name, err)
		}
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Load reads a snapshot from r, defining every captured Var into rt.
func (s *Snapshotter) Load(r io.Reader, rt *Runtime) error {
	if err := s.readHeader(r); err != nil {
		return fmt.Errorf("bootstrap: snapshot header: %w", err)
	}
	nsCount, err := readUint32(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < nsCount; i++ {
		if err := s.readNamespace(r, rt); err != nil {
			return fmt.Errorf("bootstrap: snapshot namespace %d: %w", i, err)
		}
	}
	return nil
}

func (s *Snapshotter) writeHeader(w io.Writer) error {
	if _, err := w.Write([]byte(magicNumber)); err != nil {
		return err
	}
	version := []uint8{uint8(currentVersion.Major), uint8(currentVersion.Minor), uint8(currentVersion.Patch), 0}
	_, err := w.Write(version)
	return err
}

func (s *Snapshotter) readHeader(r io.Reader) error {
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return err
	}
	if string(magic) != magicNumber {
		return fmt.Errorf("bad magic number %q", magic)
	}
	version := make([]byte, 4)
	if _, err := io.ReadFull(r, version); err != nil {
		return err
	}
	onDisk := semver.Version{Major: uint64(version[0]), Minor: uint64(version[1]), Patch: uint64(version[2])}
	if onDisk.Major != currentVersion.Major {
		return fmt.Errorf("incompatible snapshot version %s (reader is %s)", onDisk, currentVersion)
	}
	return nil
}

func (s *Snapshotter) writeNamespace(w io.Writer, name string, ns *Namespace) error {
	if err := writeString(w, name); err != nil {
		return err
	}
	ns.mu.RLock()
	type entry struct {
		name string
		v    *Var
	}
	entries := make([]entry, 0, len(ns.vars))
	for vn, v := range ns.vars {
		entries = append(entries, entry{vn, v})
	}
	ns.mu.RUnlock()

	var scalarEntries []entry
	for _, e := range entries {
		if s.isScalar(e.v.Load()) {
			scalarEntries = append(scalarEntries, e)
		}
	}
	if err := writeUint32(w, uint32(len(scalarEntries))); err != nil {
		return err
	}
	for _, e := range scalarEntries {
		if err := writeString(w, e.name); err != nil {
			return err
		}
		if err := s.writeScalar(w, e.v.Load()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Snapshotter) readNamespace(r io.Reader, rt *Runtime) error {
	name, err := readString(r)
	if err != nil {
		return err
	}
	nsObj := rt.namespace(name)
	count, err := readUint32(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		varName, err := readString(r)
		if err != nil {
			return err
		}
		val, err := s.readScalar(r)
		if err != nil {
			return err
		}
		nsObj.define(varName, val)
	}
	return nil
}

func (s *Snapshotter) isScalar(v value.Value) bool {
	switch v.Kind() {
	case value.KindConst, value.KindInteger, value.KindFloat, value.KindChar:
		return true
	case value.KindHeap:
		_, ok := s.heap.Resolve(v).(*value.StringObj)
		return ok
	default:
		return false
	}
}

func (s *Snapshotter) writeScalar(w io.Writer, v value.Value) error {
	if obj := s.heap.Resolve(v); obj != nil {
		if str, ok := obj.(*value.StringObj); ok {
			if err := writeByte(w, uint8(tagStringScalar)); err != nil {
				return err
			}
			return writeString(w, string(str.Bytes))
		}
	}
	switch v.Kind() {
	case value.KindConst:
		if v.IsNil() {
			return writeByte(w, uint8(tagNilScalar))
		}
		if err := writeByte(w, uint8(tagBoolScalar)); err != nil {
			return err
		}
		return writeBool(w, v.IsTrue())
	case value.KindInteger:
		if err := writeByte(w, uint8(tagIntScalar)); err != nil {
			return err
		}
		return writeInt64(w, v.AsInteger())
	case value.KindFloat:
		if err := writeByte(w, uint8(tagFloatScalar)); err != nil {
			return err
		}
		return writeFloat64(w, v.AsFloat())
	case value.KindChar:
		if err := writeByte(w, uint8(tagCharScalar)); err != nil {
			return err
		}
		return writeInt64(w, int64(v.AsChar()))
	default:
		return fmt.Errorf("bootstrap: cannot snapshot non-scalar value %v", v)
	}
}

func (s *Snapshotter) readScalar(r io.Reader) (value.Value, error) {
	tag, err := readByte(r)
	if err != nil {
		return value.InitNil(), err
	}
	switch scalarTag(tag) {
	case tagNilScalar:
		return value.InitNil(), nil
	case tagBoolScalar:
		b, err := readBool(r)
		if err != nil {
			return value.InitNil(), err
		}
		return value.InitBool(b), nil
	case tagIntScalar:
		n, err := readInt64(r)
		if err != nil {
			return value.InitNil(), err
		}
		return value.InitInteger(n), nil
	case tagFloatScalar:
		f, err := readFloat64(r)
		if err != nil {
			return value.InitNil(), err
		}
		return value.InitFloat(f), nil
	case tagCharScalar:
		n, err := readInt64(r)
		if err != nil {
			return value.InitNil(), err
		}
		return value.InitChar(rune(n)), nil
	case tagStringScalar:
		str, err := readString(r)
		if err != nil {
			return value.InitNil(), err
		}
		return s.heap.NewString(str), nil
	default:
		return value.InitNil(), fmt.Errorf("bootstrap: unknown snapshot scalar tag %d", tag)
	}
}

func writeString(w io.Writer, str string) error {
	if err := writeUint32(w, uint32(len(str))); err != nil {
		return err
	}
	if len(str) == 0 {
		return nil
	}
	_, err := w.Write([]byte(str))
	return err
}

func readString(r io.Reader) (string, error) {
	length, err := readUint32(r)
	if err != nil {
		return "", err
	}
	if length == 0 {
		return "", nil
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", err
	}
	return string(data), nil
}

func writeUint32(w io.Writer, v uint32) error { return binary.Write(w, binary.LittleEndian, v) }

func readUint32(r io.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func writeInt64(w io.Writer, v int64) error { return binary.Write(w, binary.LittleEndian, v) }

func readInt64(r io.Reader) (int64, error) {
	var v int64
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func writeFloat64(w io.Writer, v float64) error { return binary.Write(w, binary.LittleEndian, v) }

func readFloat64(r io.Reader) (float64, error) {
	var v float64
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func writeBool(w io.Writer, v bool) error {
	var b uint8
	if v {
		b = 1
	}
	return binary.Write(w, binary.LittleEndian, b)
}

func readBool(r io.Reader) (bool, error) {
	var b uint8
	err := binary.Read(r, binary.LittleEndian, &b)
	return b != 0, err
}

func writeByte(w io.Writer, b uint8) error { return binary.Write(w, binary.LittleEndian, b) }

func readByte(r io.Reader) (uint8, error) {
	var b uint8
	err := binary.Read(r, binary.LittleEndian, &b)
	return b, err
}
