package instrument

import (
	"bytes"
	"fmt"
)

var (
	wasmMagic   = []byte{0x00, 0x61, 0x73, 0x6d}
	wasmVersion = []byte{0x01, 0x00, 0x00, 0x00}
)

const (
	sectionCustom byte = iota
	sectionType
	sectionImport
	sectionFunction
	sectionTable
	sectionMemory
	sectionGlobal
	sectionExport
	sectionStart
	sectionElement
	sectionCode
	sectionData
	sectionDataCount
)

const (
	externFunc   byte = 0x00
	externTable  byte = 0x01
	externMemory byte = 0x02
	externGlobal byte = 0x03
)

const funcTypeForm byte = 0x60

// nameSection is dropped on re-encode since function indices move.
const nameSection = "name"

type funcType struct {
	params  []byte
	results []byte
}

func (t funcType) equal(o funcType) bool {
	return bytes.Equal(t.params, o.params) && bytes.Equal(t.results, o.results)
}

type importEntry struct {
	module string
	name   string
	kind   byte
	// desc holds the raw descriptor following the kind byte.
	desc []byte
	// typeIndex is set for function imports.
	typeIndex uint32
}

type exportEntry struct {
	name  string
	kind  byte
	index uint32
}

type elemSegment struct {
	// offset is the raw constant expression, including its end.
	offset []byte
	funcs  []uint32
}

type funcBody struct {
	locals []byte
	body   []byte
	code   []instruction
}

// section keeps the position of every section of the original module. Sections
// the instrumentor never rewrites are carried as raw payloads.
type section struct {
	id   byte
	name string
	raw  []byte
}

// Module is a section-level view of a wasm binary with function bodies decoded
// to instruction boundaries.
type Module struct {
	sections []*section

	types     []funcType
	imports   []importEntry
	functions []uint32
	exports   []exportEntry
	start     *uint32
	elements  []elemSegment
	bodies    []funcBody
}

// sectionRank gives the mandated order of known sections. Data count sits
// between element and code.
func sectionRank(id byte) int {
	if id == sectionDataCount {
		return int(sectionElement) + 1
	}
	if id >= sectionCode {
		return int(id) + 1
	}
	return int(id)
}

func (m *Module) hasSection(id byte) bool {
	for _, s := range m.sections {
		if s.id == id {
			return true
		}
	}
	return false
}

// ensureSection inserts an empty section with the given id in its canonical
// position if the module does not have one yet.
func (m *Module) ensureSection(id byte) {
	if m.hasSection(id) {
		return
	}
	at := len(m.sections)
	for i, s := range m.sections {
		if s.id != sectionCustom && sectionRank(s.id) > sectionRank(id) {
			at = i
			break
		}
	}
	m.sections = append(m.sections, nil)
	copy(m.sections[at+1:], m.sections[at:])
	m.sections[at] = &section{id: id}
}

// importedFunctions counts function imports, which occupy the lowest function indices.
func (m *Module) importedFunctions() uint32 {
	var n uint32
	for _, imp := range m.imports {
		if imp.kind == externFunc {
			n++
		}
	}
	return n
}

// addType returns the index of t, appending it when no equal type exists.
func (m *Module) addType(t funcType) uint32 {
	for i, existing := range m.types {
		if existing.equal(t) {
			return uint32(i)
		}
	}
	m.types = append(m.types, t)
	return uint32(len(m.types) - 1)
}

// Decode parses a wasm binary.
func Decode(raw []byte) (*Module, error) {
	r := newReader(raw)
	magic, err := r.readBytes(4)
	if err != nil || !bytes.Equal(magic, wasmMagic) {
		return nil, fmt.Errorf("invalid magic number")
	}
	version, err := r.readBytes(4)
	if err != nil || !bytes.Equal(version, wasmVersion) {
		return nil, fmt.Errorf("unsupported binary version")
	}

	m := &Module{}
	for !r.eof() {
		id, err := r.readByte()
		if err != nil {
			return nil, err
		}
		size, err := r.readU32()
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", id, err)
		}
		payload, err := r.readBytes(int(size))
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", id, err)
		}
		s := &section{id: id}
		if err := m.decodeSection(s, payload); err != nil {
			return nil, fmt.Errorf("section %d: %w", id, err)
		}
		m.sections = append(m.sections, s)
	}
	if len(m.functions) != len(m.bodies) {
		return nil, fmt.Errorf("function and code section counts differ: %d != %d", len(m.functions), len(m.bodies))
	}
	return m, nil
}

func (m *Module) decodeSection(s *section, payload []byte) error {
	r := newReader(payload)
	var err error
	switch s.id {
	case sectionCustom:
		s.name, err = r.readName()
		s.raw = payload
		return err
	case sectionType:
		err = m.decodeTypes(r)
	case sectionImport:
		err = m.decodeImports(r)
	case sectionFunction:
		err = decodeVec(r, func() error {
			idx, err := r.readU32()
			m.functions = append(m.functions, idx)
			return err
		})
	case sectionExport:
		err = decodeVec(r, func() error {
			var e exportEntry
			var err error
			if e.name, err = r.readName(); err != nil {
				return err
			}
			if e.kind, err = r.readByte(); err != nil {
				return err
			}
			e.index, err = r.readU32()
			m.exports = append(m.exports, e)
			return err
		})
	case sectionStart:
		var idx uint32
		idx, err = r.readU32()
		m.start = &idx
	case sectionElement:
		err = m.decodeElements(r)
	case sectionCode:
		err = decodeVec(r, func() error {
			size, err := r.readU32()
			if err != nil {
				return err
			}
			bz, err := r.readBytes(int(size))
			if err != nil {
				return err
			}
			body, err := decodeBody(bz)
			m.bodies = append(m.bodies, body)
			return err
		})
	default:
		s.raw = payload
		return nil
	}
	if err != nil {
		return err
	}
	if !r.eof() {
		return fmt.Errorf("%d trailing bytes", len(payload)-r.pos)
	}
	return nil
}

func decodeVec(r *reader, each func() error) error {
	n, err := r.readU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		if err := each(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) decodeTypes(r *reader) error {
	return decodeVec(r, func() error {
		form, err := r.readByte()
		if err != nil {
			return err
		}
		if form != funcTypeForm {
			return fmt.Errorf("unsupported type form 0x%02x", form)
		}
		var t funcType
		for _, dst := range []*[]byte{&t.params, &t.results} {
			n, err := r.readU32()
			if err != nil {
				return err
			}
			bz, err := r.readBytes(int(n))
			if err != nil {
				return err
			}
			*dst = append([]byte(nil), bz...)
		}
		m.types = append(m.types, t)
		return nil
	})
}

func skipLimits(r *reader) error {
	flags, err := r.readByte()
	if err != nil {
		return err
	}
	if _, err := r.readU32(); err != nil {
		return err
	}
	if flags&0x01 != 0 {
		_, err = r.readU32()
	}
	return err
}

func (m *Module) decodeImports(r *reader) error {
	return decodeVec(r, func() error {
		var imp importEntry
		var err error
		if imp.module, err = r.readName(); err != nil {
			return err
		}
		if imp.name, err = r.readName(); err != nil {
			return err
		}
		if imp.kind, err = r.readByte(); err != nil {
			return err
		}
		from := r.pos
		switch imp.kind {
		case externFunc:
			imp.typeIndex, err = r.readU32()
		case externTable:
			if _, err = r.readByte(); err == nil {
				err = skipLimits(r)
			}
		case externMemory:
			err = skipLimits(r)
		case externGlobal:
			_, err = r.readBytes(2)
		default:
			err = fmt.Errorf("unknown import kind 0x%02x", imp.kind)
		}
		if err != nil {
			return err
		}
		imp.desc = r.buf[from:r.pos]
		m.imports = append(m.imports, imp)
		return nil
	})
}

func (m *Module) decodeElements(r *reader) error {
	return decodeVec(r, func() error {
		flags, err := r.readU32()
		if err != nil {
			return err
		}
		if flags != 0 {
			return fmt.Errorf("unsupported element segment kind %d", flags)
		}
		from := r.pos
		if _, err := decodeExpr(r); err != nil {
			return err
		}
		seg := elemSegment{offset: r.buf[from:r.pos]}
		err = decodeVec(r, func() error {
			idx, err := r.readU32()
			seg.funcs = append(seg.funcs, idx)
			return err
		})
		m.elements = append(m.elements, seg)
		return err
	})
}

func decodeBody(bz []byte) (funcBody, error) {
	r := newReader(bz)
	err := decodeVec(r, func() error {
		if _, err := r.readU32(); err != nil {
			return err
		}
		_, err := r.readByte()
		return err
	})
	if err != nil {
		return funcBody{}, err
	}
	body := funcBody{locals: bz[:r.pos], body: bz}
	if body.code, err = decodeExpr(r); err != nil {
		return funcBody{}, err
	}
	if !r.eof() {
		return funcBody{}, fmt.Errorf("%d bytes after function end", len(bz)-r.pos)
	}
	return body, nil
}

// Encode serializes the module back to the binary format.
func (m *Module) Encode() ([]byte, error) {
	out := append(append([]byte(nil), wasmMagic...), wasmVersion...)
	for _, s := range m.sections {
		if s.id == sectionCustom && s.name == nameSection {
			continue
		}
		payload, err := m.encodeSection(s)
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", s.id, err)
		}
		out = append(out, s.id)
		out = appendU32(out, uint32(len(payload)))
		out = append(out, payload...)
	}
	return out, nil
}

func (m *Module) encodeSection(s *section) ([]byte, error) {
	var out []byte
	switch s.id {
	case sectionType:
		out = appendU32(out, uint32(len(m.types)))
		for _, t := range m.types {
			out = append(out, funcTypeForm)
			out = appendU32(out, uint32(len(t.params)))
			out = append(out, t.params...)
			out = appendU32(out, uint32(len(t.results)))
			out = append(out, t.results...)
		}
	case sectionImport:
		out = appendU32(out, uint32(len(m.imports)))
		for _, imp := range m.imports {
			out = appendName(out, imp.module)
			out = appendName(out, imp.name)
			out = append(out, imp.kind)
			if imp.kind == externFunc {
				out = appendU32(out, imp.typeIndex)
			} else {
				out = append(out, imp.desc...)
			}
		}
	case sectionFunction:
		out = appendU32(out, uint32(len(m.functions)))
		for _, idx := range m.functions {
			out = appendU32(out, idx)
		}
	case sectionExport:
		out = appendU32(out, uint32(len(m.exports)))
		for _, e := range m.exports {
			out = appendName(out, e.name)
			out = append(out, e.kind)
			out = appendU32(out, e.index)
		}
	case sectionStart:
		if m.start == nil {
			return nil, fmt.Errorf("start section without index")
		}
		out = appendU32(out, *m.start)
	case sectionElement:
		out = appendU32(out, uint32(len(m.elements)))
		for _, seg := range m.elements {
			out = appendU32(out, 0)
			out = append(out, seg.offset...)
			out = appendU32(out, uint32(len(seg.funcs)))
			for _, idx := range seg.funcs {
				out = appendU32(out, idx)
			}
		}
	case sectionCode:
		if len(m.bodies) != len(m.functions) {
			return nil, fmt.Errorf("%d bodies for %d functions", len(m.bodies), len(m.functions))
		}
		out = appendU32(out, uint32(len(m.bodies)))
		for _, b := range m.bodies {
			out = appendU32(out, uint32(len(b.body)))
			out = append(out, b.body...)
		}
	default:
		out = s.raw
	}
	return out, nil
}
