package transform

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/go-xform/internal/optypes"
	"github.com/pkg/errors"
)

// Write writes the sequence in script text format to the given writer.
func (s *Sequence) Write(writer io.Writer, indentation string) error {
	var err error
	w := func(format string, args ...any) {
		if err != nil {
			return
		}
		_, err = fmt.Fprintf(writer, format, args...)
	}
	w("%stransform.sequence @%s failures(%s) {\n", indentation, s.Builder.name, s.Mode)
	w("%s^bb0(%s: !transform.any_op):\n", indentation, s.arg)
	nextIndentation := indentation + "  "
	for _, stmt := range s.Statements {
		if err != nil {
			break
		}
		err = stmt.Write(writer, nextIndentation)
		w("\n")
	}
	w("%stransform.yield\n%s}\n", nextIndentation, indentation)
	return errors.Wrapf(err, "writing sequence of %q", s.Builder.name)
}

// Write writes the statement in script text format to the given writer, without the trailing new line.
func (stmt *Statement) Write(writer io.Writer, indentation string) error {
	_, err := io.WriteString(writer, indentation+stmt.String())
	return err
}

// String implements fmt.Stringer.
func (stmt *Statement) String() string {
	var sb strings.Builder
	if len(stmt.Outputs) > 0 {
		sb.WriteString(joinHandles(stmt.Outputs))
		sb.WriteString(" = ")
	}
	sb.WriteString(stmt.OpType.ToStatementName())
	attrs := stmt.Attributes
	switch stmt.OpType {
	case optypes.Match:
		fmt.Fprintf(&sb, " ops{%s} in %s", formatAttr(attrs[AttrOps]), joinHandles(stmt.Inputs))
		return sb.String()
	case optypes.MatchCallback:
		fmt.Fprintf(&sb, " failures(%s) %q(%s)", attrs[AttrFailures], attrs[AttrCallbackName], joinHandles(stmt.Inputs))
		return sb.String()
	}
	if len(stmt.Inputs) > 0 {
		sb.WriteString(" ")
		sb.WriteString(joinHandles(stmt.Inputs))
	}
	if config, found := attrs[AttrPatterns].(PatternsConfig); found {
		sb.WriteString(" ")
		sb.WriteString(config.String())
	}
	exclude := []string{AttrPatterns}
	if stmt.OpType == optypes.TileToForall || stmt.OpType == optypes.TileToFor {
		for _, key := range []string{AttrNumThreads, AttrTileSizes} {
			if value, found := attrs[key]; found {
				fmt.Fprintf(&sb, " %s %s", key, formatAttr(value))
			}
		}
		exclude = append(exclude, AttrNumThreads, AttrTileSizes)
	}
	if s := formatAttributes(attrs, exclude...); s != "" {
		sb.WriteString(" ")
		sb.WriteString(s)
	}
	return sb.String()
}

func joinHandles(handles []*Handle) string {
	parts := make([]string, len(handles))
	for i, h := range handles {
		parts[i] = h.String()
	}
	return strings.Join(parts, ", ")
}

// formatAttributes formats the attributes, sorted by key, as `{key = value, ...}`. Boolean attributes set
// to true are printed as their key only. It returns "" if there is nothing to print.
func formatAttributes(attrs map[string]any, exclude ...string) string {
	var keys []string
	for key := range attrs {
		if !slices.Contains(exclude, key) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		if b, ok := attrs[key].(bool); ok {
			if b {
				parts = append(parts, key)
			}
			continue
		}
		parts = append(parts, key+" = "+formatAttr(attrs[key]))
	}
	if len(parts) == 0 {
		return ""
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func formatAttr(value any) string {
	switch v := value.(type) {
	case string:
		if strings.HasPrefix(v, "#") {
			return v
		}
		return strconv.Quote(v)
	case []string:
		parts := make([]string, len(v))
		for i, s := range v {
			parts[i] = formatAttr(s)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []int:
		return formatList(v, strconv.Itoa)
	case []bool:
		return formatList(v, strconv.FormatBool)
	case []float64:
		return formatList(v, func(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) })
	case [][]int:
		return formatList(v, func(perm []int) string { return formatList(perm, strconv.Itoa) })
	default:
		return fmt.Sprint(v)
	}
}

func formatList[T any](values []T, format func(T) string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = format(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
