package instrument

import (
	"errors"
	"fmt"
	"math"
)

// The import every instrumented module calls to pay for its work.
const (
	GasImportModule = "env"
	GasImportName   = "gas"
)

// ErrAlreadyMetered is returned for modules that already import the gas function.
var ErrAlreadyMetered = errors.New("module already imports the gas function")

// Rules is the cost model applied by InjectGasCounter.
type Rules struct {
	// InstructionCost is charged for every instruction except else and end.
	InstructionCost uint32
	// GrowCostPerPage is charged per page requested by memory.grow, on top of
	// the instruction cost. Zero leaves memory.grow untouched.
	GrowCostPerPage uint32
}

// DefaultRules charges one unit per instruction and one unit per grown page.
var DefaultRules = Rules{InstructionCost: 1, GrowCostPerPage: 1}

var (
	gasFuncType  = funcType{params: []byte{valueTypeI32}}
	growFuncType = funcType{params: []byte{valueTypeI32}, results: []byte{valueTypeI32}}
)

// meteredBlock is a straight run of a function body that is paid for up front.
type meteredBlock struct {
	start int
	cost  uint64
}

// InjectGasCounter rewrites m in place so that every metered block starts
// with a call to env.gas carrying the block's cost, and every memory.grow is
// routed through a helper that pays for the requested pages first.
func InjectGasCounter(m *Module, rules Rules) error {
	for _, imp := range m.imports {
		if imp.kind == externFunc && imp.module == GasImportModule && imp.name == GasImportName {
			return ErrAlreadyMetered
		}
	}

	m.ensureSection(sectionType)
	m.ensureSection(sectionImport)
	gasType := m.addType(gasFuncType)
	gasIndex := m.importedFunctions()
	m.imports = append(m.imports, importEntry{
		module:    GasImportModule,
		name:      GasImportName,
		kind:      externFunc,
		typeIndex: gasType,
	})

	shift := func(idx uint32) uint32 {
		if idx >= gasIndex {
			return idx + 1
		}
		return idx
	}
	for i := range m.exports {
		if m.exports[i].kind == externFunc {
			m.exports[i].index = shift(m.exports[i].index)
		}
	}
	if m.start != nil {
		idx := shift(*m.start)
		m.start = &idx
	}
	for i := range m.elements {
		for j, idx := range m.elements[i].funcs {
			m.elements[i].funcs[j] = shift(idx)
		}
	}

	growIndex := int64(-1)
	if rules.GrowCostPerPage > 0 && m.usesMemoryGrow() {
		growIndex = int64(gasIndex) + 1 + int64(len(m.functions))
	}

	for i := range m.bodies {
		body, err := meterBody(m.bodies[i], rules, gasIndex, growIndex, shift)
		if err != nil {
			return fmt.Errorf("function %d: %w", i, err)
		}
		m.bodies[i].body = body
	}

	if growIndex >= 0 {
		m.functions = append(m.functions, m.addType(growFuncType))
		m.bodies = append(m.bodies, growCounterBody(rules.GrowCostPerPage, gasIndex))
	}
	return nil
}

func (m *Module) usesMemoryGrow() bool {
	for _, b := range m.bodies {
		for _, ins := range b.code {
			if ins.op == opMemoryGrow {
				return true
			}
		}
	}
	return false
}

// meteredBlocks splits code into the blocks charged by the cost model. A
// block opens at the function start, after every block, loop and if, and
// after every else. Instructions after a nested block's end are charged to
// the enclosing block.
func meteredBlocks(code []instruction, rules Rules) ([]meteredBlock, error) {
	blocks := []meteredBlock{{start: 0}}
	stack := []int{0}
	for i, ins := range code {
		if len(stack) == 0 {
			return nil, fmt.Errorf("instruction after function end at offset %d", ins.start)
		}
		top := stack[len(stack)-1]
		switch ins.op {
		case opBlock, opLoop, opIf:
			blocks[top].cost += uint64(rules.InstructionCost)
			blocks = append(blocks, meteredBlock{start: i + 1})
			stack = append(stack, len(blocks)-1)
		case opElse:
			blocks = append(blocks, meteredBlock{start: i + 1})
			stack[len(stack)-1] = len(blocks) - 1
		case opEnd:
			stack = stack[:len(stack)-1]
		default:
			blocks[top].cost += uint64(rules.InstructionCost)
		}
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("%d unterminated blocks", len(stack))
	}
	return blocks, nil
}

func meterBody(fb funcBody, rules Rules, gasIndex uint32, growIndex int64, shift func(uint32) uint32) ([]byte, error) {
	blocks, err := meteredBlocks(fb.code, rules)
	if err != nil {
		return nil, err
	}
	charges := make(map[int]uint64, len(blocks))
	for _, b := range blocks {
		charges[b.start] += b.cost
	}

	out := make([]byte, 0, len(fb.body)+len(blocks)*8)
	out = append(out, fb.locals...)
	for i, ins := range fb.code {
		if cost := charges[i]; cost > 0 {
			if cost > math.MaxUint32 {
				return nil, fmt.Errorf("block cost %d overflows the gas call", cost)
			}
			out = append(out, opI32Const)
			out = appendS32(out, int32(uint32(cost)))
			out = append(out, opCall)
			out = appendU32(out, gasIndex)
		}
		switch {
		case ins.refersToFunction():
			out = append(out, ins.op)
			out = appendU32(out, shift(ins.index))
		case ins.op == opMemoryGrow && growIndex >= 0:
			out = append(out, opCall)
			out = appendU32(out, uint32(growIndex))
		default:
			out = append(out, fb.body[ins.start:ins.end]...)
		}
	}
	return out, nil
}

// growCounterBody charges pages*cost, then performs the grow it replaces.
func growCounterBody(costPerPage uint32, gasIndex uint32) funcBody {
	code := []byte{0x00} // no locals
	code = append(code, opLocalGet, 0x00)
	code = append(code, opI32Const)
	code = appendS32(code, int32(costPerPage))
	code = append(code, opI32Mul)
	code = append(code, opCall)
	code = appendU32(code, gasIndex)
	code = append(code, opLocalGet, 0x00)
	code = append(code, opMemoryGrow, 0x00)
	code = append(code, opEnd)
	return funcBody{locals: code[:1], body: code}
}
