package payload

import (
	"fmt"
	"io"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/gomlx/go-xform/pkg/types/dtypes"
	"github.com/gomlx/go-xform/pkg/types/shapes"
)

// printer writes ops in an MLIR-like textual form, naming values deterministically in definition order.
type printer struct {
	writer  io.Writer
	err     error
	names   map[*Value]string
	used    map[string]int
	nextVal int
	nextArg int
}

func newPrinter(writer io.Writer) *printer {
	return &printer{writer: writer, names: make(map[*Value]string), used: make(map[string]int)}
}

func (p *printer) w(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.writer, format, args...)
}

// Write writes the whole program to writer.
func (g *Graph) Write(writer io.Writer) error {
	p := newPrinter(writer)
	p.number(g.root)
	p.op(g.root, "")
	return p.err
}

// String returns the textual form of the whole program.
func (g *Graph) String() string {
	var sb strings.Builder
	_ = g.Write(&sb)
	return sb.String()
}

// String returns the textual form of op, with values named as in the enclosing function.
func (op *Op) String() string {
	var sb strings.Builder
	p := newPrinter(&sb)
	scope := FuncOf(op)
	if scope == nil {
		scope = op
	}
	p.number(scope)
	p.op(op, "")
	return strings.TrimSuffix(sb.String(), "\n")
}

// number assigns names to all values defined in op, in pre-order.
func (p *printer) number(op *Op) {
	op.Walk(func(op *Op) {
		if op.Kind == OpKindFunc {
			p.nextVal, p.nextArg = 0, 0
			clear(p.used)
		}
		for _, result := range op.Results {
			p.names[result] = p.freshName(result)
		}
		if op.Body != nil {
			for _, arg := range op.Body.Args {
				p.names[arg] = fmt.Sprintf("%%arg%d", p.nextArg)
				p.nextArg++
			}
		}
	})
}

func (p *printer) freshName(v *Value) string {
	def := v.DefiningOp()
	if def.Kind == OpKindConstant {
		base := "%cst"
		if !v.Shape.IsShaped() && v.Shape.DType.IsInt() {
			base = fmt.Sprintf("%%c%d", int(def.FloatAttr(AttrValue)))
			if strings.HasPrefix(base, "%c-") {
				base = "%cneg" + base[3:]
			}
		}
		count := p.used[base]
		p.used[base] = count + 1
		if count == 0 {
			return base
		}
		return fmt.Sprintf("%s_%d", base, count-1)
	}
	name := fmt.Sprintf("%%%d", p.nextVal)
	p.nextVal++
	return name
}

func (p *printer) name(v *Value) string {
	if name, found := p.names[v]; found {
		return name
	}
	return "%<unknown>"
}

func (p *printer) list(values []*Value) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = p.name(v)
	}
	return strings.Join(parts, ", ")
}

func typesOf(values []*Value) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = v.Shape.ToMLIR()
	}
	return strings.Join(parts, ", ")
}

func (p *printer) typedList(values []*Value) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%s : %s", p.name(v), v.Shape.ToMLIR())
	}
	return strings.Join(parts, ", ")
}

func (p *printer) results(op *Op) {
	if len(op.Results) > 0 {
		p.w("%s = ", p.list(op.Results))
	}
}

func (p *printer) body(op *Op, indent string) {
	p.w("{\n")
	for _, nested := range op.Body.Ops {
		p.op(nested, indent+"  ")
	}
	p.w("%s}", indent)
}

func (p *printer) op(op *Op, indent string) {
	p.w("%s", indent)
	switch op.Kind {
	case OpKindVariant:
		p.w("hal.executable.variant public @%s target(<%q>) ", op.Symbol, op.StringAttr(AttrTarget))
		p.body(op, indent)

	case OpKindExport:
		p.w("hal.executable.export public @%s", op.Symbol)
		if count := op.IntsAttr(AttrWorkgroupCount); count != nil {
			p.w(" workgroup_count(%s)", joinInts(count))
		}

	case OpKindFunc:
		args := make([]string, len(op.Body.Args))
		for i, arg := range op.Body.Args {
			args[i] = fmt.Sprintf("%s: %s", p.name(arg), arg.Shape.ToMLIR())
		}
		p.w("func.func @%s(%s) ", op.Symbol, strings.Join(args, ", "))
		if size := op.IntsAttr(AttrWorkgroupSize); size != nil {
			p.w("attributes {workgroup_size = [%s]} ", joinInts(size))
		}
		p.body(op, indent)

	case OpKindConstant:
		p.results(op)
		p.w("arith.constant %s", constantLiteral(op))

	case OpKindAffineApply, OpKindAffineMin:
		p.results(op)
		p.w("%s affine_map<%s>(%s)", op.Name(), affineExpr(op), p.list(op.Operands))

	case OpKindEmpty, OpKindAlloc:
		p.results(op)
		p.w("%s(%s) : %s", op.Name(), p.list(op.Operands), op.Results[0].Shape.ToMLIR())

	case OpKindFill, OpKindGeneric:
		l := MustLinalg(op)
		p.results(op)
		p.w("%s ", op.Name())
		if op.Kind == OpKindGeneric {
			p.w("{%s} ", genericAttributes(op, l))
		}
		p.w("ins(%s) outs(%s)", p.typedList(l.Inputs()), p.typedList(l.Inits()))
		if len(op.Results) > 0 {
			p.w(" -> %s", typesOf(op.Results))
		}

	case OpKindExtractSlice, OpKindSubview:
		p.results(op)
		p.w("%s %s%s : %s to %s", op.Name(), p.name(op.Operands[0]), p.sliceParams(op),
			op.Operands[0].Shape.ToMLIR(), op.Results[0].Shape.ToMLIR())

	case OpKindInsertSlice, OpKindParallelInsertSlice:
		p.results(op)
		p.w("%s %s into %s%s : %s into %s", op.Name(), p.name(op.Operands[0]), p.name(op.Operands[1]),
			p.sliceParams(op), op.Operands[0].Shape.ToMLIR(), op.Operands[1].Shape.ToMLIR())

	case OpKindExpandShape, OpKindCollapseShape:
		p.results(op)
		p.w("%s %s %s : %s into %s", op.Name(), p.name(op.Operands[0]),
			formatAttr(op.Attributes[AttrReassociation]), op.Operands[0].Shape.ToMLIR(), op.Results[0].Shape.ToMLIR())

	case OpKindPad:
		p.results(op)
		nofold := ""
		if op.BoolAttr(AttrNoFold) {
			nofold = " nofold"
		}
		p.w("tensor.pad %s%s low[%s] high[%s] padding(%s) : %s to %s", p.name(op.Operands[0]), nofold,
			joinInts(op.IntsAttr(AttrLow)), joinInts(op.IntsAttr(AttrHigh)),
			dtypes.FormatScalar(op.Results[0].Shape.DType, op.FloatAttr(AttrPadding)),
			op.Operands[0].Shape.ToMLIR(), op.Results[0].Shape.ToMLIR())

	case OpKindForall:
		p.results(op)
		ivs := ForallIVs(op)
		p.w("scf.forall (%s) in (%s) ", p.list(ivs), joinInts(op.IntsAttr(AttrNumThreads)))
		if len(op.Operands) > 0 {
			outs := make([]string, len(op.Operands))
			for i, arg := range ForallOutputArgs(op) {
				outs[i] = fmt.Sprintf("%s = %s", p.name(arg), p.name(op.Operands[i]))
			}
			p.w("shared_outs(%s) ", strings.Join(outs, ", "))
		}
		if len(op.Results) > 0 {
			p.w("-> (%s) ", typesOf(op.Results))
		}
		p.body(op, indent)
		if mapping := op.StringsAttr(AttrMapping); len(mapping) > 0 {
			p.w(" {mapping = [%s]}", strings.Join(mapping, ", "))
		}

	case OpKindFor:
		p.results(op)
		p.w("scf.for %s = %s to %s step %s ", p.name(op.Body.Args[0]), p.name(op.Operands[0]),
			p.name(op.Operands[1]), p.name(op.Operands[2]))
		if inits := ForInits(op); len(inits) > 0 {
			iterArgs := make([]string, len(inits))
			for i, arg := range ForIterArgs(op) {
				iterArgs[i] = fmt.Sprintf("%s = %s", p.name(arg), p.name(inits[i]))
			}
			p.w("iter_args(%s) -> (%s) ", strings.Join(iterArgs, ", "), typesOf(op.Results))
		}
		p.body(op, indent)

	case OpKindYield:
		if op.Body != nil {
			p.w("scf.forall.in_parallel ")
			p.body(op, indent)
			break
		}
		p.w("scf.yield")
		if len(op.Operands) > 0 {
			p.w(" %s : %s", p.list(op.Operands), typesOf(op.Operands))
		}

	case OpKindTransferRead, OpKindTransferWrite:
		p.results(op)
		p.w("%s ", op.Name())
		if op.Kind == OpKindTransferWrite {
			p.w("%s, ", p.name(op.Operands[0]))
		}
		p.w("%s[%s]", p.name(TransferSource(op)), p.list(TransferIndices(op)))
		if mask := TransferMask(op); mask != nil {
			p.w(", %s", p.name(mask))
		}
		if attrs := formatAttributes(op.Attributes, AttrHasMask); attrs != "" {
			p.w(" {%s}", attrs)
		}
		if op.Kind == OpKindTransferWrite {
			p.w(" : %s, %s", op.Operands[0].Shape.ToMLIR(), op.Operands[1].Shape.ToMLIR())
		} else {
			p.w(" : %s, %s", op.Operands[0].Shape.ToMLIR(), op.Results[0].Shape.ToMLIR())
		}

	default:
		p.results(op)
		p.w("%s", op.Name())
		if len(op.Operands) > 0 {
			p.w(" %s", p.list(op.Operands))
		}
		if attrs := formatAttributes(op.Attributes); attrs != "" {
			p.w(" {%s}", attrs)
		}
		if len(op.Operands) > 0 || len(op.Results) > 0 {
			p.w(" : (%s) -> (%s)", typesOf(op.Operands), typesOf(op.Results))
		}
	}
	p.w("\n")
}

func (p *printer) sliceParams(op *Op) string {
	offsets, sizes := sliceParams(op)
	format := func(list []OpFoldResult) string {
		parts := make([]string, len(list))
		for i, r := range list {
			if r.IsStatic() {
				parts[i] = strconv.Itoa(r.Static)
			} else {
				parts[i] = p.name(r.Value)
			}
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	strides := make([]int, len(offsets))
	for i := range strides {
		strides[i] = 1
	}
	return fmt.Sprintf("%s %s [%s]", format(offsets), format(sizes), joinInts(strides))
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}

func constantLiteral(op *Op) string {
	shape := op.Results[0].Shape
	value := op.FloatAttr(AttrValue)
	if !shape.IsShaped() {
		return dtypes.FormatScalar(shape.DType, value)
	}
	if sizes := op.IntsAttr(AttrMaskDimSizes); sizes != nil {
		allTrue, allFalse := true, false
		for i, size := range sizes {
			allTrue = allTrue && size == shape.Dimensions[i]
			allFalse = allFalse || size == 0
		}
		switch {
		case allTrue:
			return fmt.Sprintf("dense<true> : %s", shape.ToMLIR())
		case allFalse:
			return fmt.Sprintf("dense<false> : %s", shape.ToMLIR())
		default:
			return fmt.Sprintf("dense_mask<[%s]> : %s", joinInts(sizes), shape.ToMLIR())
		}
	}
	scalar := dtypes.FormatScalar(shape.DType, value)
	scalar = scalar[:strings.LastIndex(scalar, " : ")]
	return fmt.Sprintf("dense<%s> : %s", scalar, shape.ToMLIR())
}

func affineExpr(op *Op) string {
	dims := make([]string, len(op.Operands))
	var terms []string
	for i, coefficient := range op.IntsAttr(AttrCoefficients) {
		dims[i] = fmt.Sprintf("d%d", i)
		switch coefficient {
		case 0:
		case 1:
			terms = append(terms, dims[i])
		default:
			terms = append(terms, fmt.Sprintf("d%d * %d", i, coefficient))
		}
	}
	if c := op.IntAttr(AttrConstant); c != 0 || len(terms) == 0 {
		terms = append(terms, strconv.Itoa(c))
	}
	expr := strings.Join(terms, " + ")
	if op.Kind == OpKindAffineMin {
		expr = fmt.Sprintf("%d, %s", op.IntAttr(AttrBound), expr)
	}
	return fmt.Sprintf("(%s) -> (%s)", strings.Join(dims, ", "), expr)
}

// formatIndexingMap formats a map from loop dims to operand dims as an affine_map.
func formatIndexingMap(numLoops int, m []int) string {
	dims := make([]string, numLoops)
	for i := range dims {
		dims[i] = fmt.Sprintf("d%d", i)
	}
	exprs := make([]string, len(m))
	for i, loop := range m {
		if loop == UnitDim {
			exprs[i] = "0"
		} else {
			exprs[i] = dims[loop]
		}
	}
	return fmt.Sprintf("affine_map<(%s) -> (%s)>", strings.Join(dims, ", "), strings.Join(exprs, ", "))
}

func genericAttributes(op *Op, l *Linalg) string {
	maps := make([]string, len(l.IndexingMaps))
	for i, m := range l.IndexingMaps {
		maps[i] = formatIndexingMap(l.NumLoops(), m)
	}
	parts := []string{
		fmt.Sprintf("indexing_maps = [%s]", strings.Join(maps, ", ")),
		fmt.Sprintf("iterator_types = %s", formatAttr(l.IteratorTypes)),
		fmt.Sprintf("fn = %q", l.Fn()),
	}
	if rest := formatAttributes(op.Attributes, AttrIndexingMaps, AttrIteratorTypes, AttrFn, AttrNumInputs); rest != "" {
		parts = append(parts, rest)
	}
	return strings.Join(parts, ", ")
}

// formatAttributes formats an attribute dictionary in key order, skipping the excluded keys.
func formatAttributes(attrs map[string]any, exclude ...string) string {
	keys := make([]string, 0, len(attrs))
	for key := range attrs {
		if !slices.Contains(exclude, key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, key := range keys {
		parts[i] = fmt.Sprintf("%s = %s", key, formatAttr(attrs[key]))
	}
	return strings.Join(parts, ", ")
}

func formatAttr(value any) string {
	switch v := value.(type) {
	case string:
		return strconv.Quote(v)
	case []int:
		return "[" + joinInts(v) + "]"
	case []bool:
		parts := make([]string, len(v))
		for i, b := range v {
			parts[i] = strconv.FormatBool(b)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []string:
		parts := make([]string, len(v))
		for i, s := range v {
			parts[i] = strconv.Quote(s)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []IteratorType:
		parts := make([]string, len(v))
		for i, it := range v {
			parts[i] = strconv.Quote(it.String())
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case [][]int:
		parts := make([]string, len(v))
		for i, group := range v {
			parts[i] = "[" + joinInts(group) + "]"
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case shapes.Shape:
		return v.ToMLIR()
	default:
		return fmt.Sprintf("%v", v)
	}
}
