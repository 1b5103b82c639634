// xform_strategy builds the transformation strategy of a sample reduction kernel, prints the script and
// optionally executes it on the kernel, printing the transformed program and execution statistics.
//
// If the target is not given, it asks interactively for the kernel to build.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/gomlx/go-xform/internal/matchers"
	"github.com/gomlx/go-xform/pkg/payload/payloadtest"
	"github.com/gomlx/go-xform/pkg/strategies"
	"github.com/gomlx/go-xform/pkg/transform"
	"github.com/gomlx/go-xform/pkg/types/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	targetValues       = []string{"cuda", "llvm-cpu"}
	targetDescriptions = []string{
		"GPU: rows are distributed over workgroups and the reduction over threads",
		"CPU: the reduction is split into a vectorized inner dimension",
	}
	elementwiseValues = []string{"", "exp", "sqrt", "neg", "abs"}

	flagTarget   = flag.String("target", "", "Target of the kernel. Valid values: cuda, llvm-cpu")
	flagDType    = flag.String("dtype", "float32", "Data type of the kernel.")
	flagRows     = flag.Int("rows", 8, "Number of rows of the reduced matrix.")
	flagCols     = flag.Int("cols", 1024, "Number of columns of the reduced matrix: the reduction size.")
	flagCombiner = flag.String("combiner", "add", "Combiner of the reduction, e.g. add or max.")
	flagLeading  = flag.String("leading", "", "Elementwise function applied before the reduction, empty for none.")
	flagTrailing = flag.String("trailing", "", "Elementwise function applied after the reduction, empty for none.")
	flagJSON     = flag.Bool("json", false, "Also print the script in JSON format.")
	flagExecute  = flag.Bool("execute", true, "Execute the script on the kernel and print the transformed program.")
	flagSuppress = flag.Bool("suppress", false, "Execute the script suppressing silenceable failures.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *flagTarget == "" {
		questions := []Question{
			{Title: "Target", Flag: flag.CommandLine.Lookup("target"),
				Values: targetValues, ValuesDescriptions: targetDescriptions},
			{Title: "Reduction size", Flag: flag.CommandLine.Lookup("cols"), Values: []string{"1024"}, CustomValues: true,
				ValidateFn: ValidatePositive("cols")},
			{Title: "Leading elementwise op", Flag: flag.CommandLine.Lookup("leading"), Values: elementwiseValues},
			{Title: "Trailing elementwise op", Flag: flag.CommandLine.Lookup("trailing"), Values: elementwiseValues},
		}
		err := Interact(os.Args[0], questions)
		if err != nil {
			if err == ErrUserAborted {
				fmt.Println("Aborted.")
				return
			}
			klog.Fatalf("Failed on error: %+v", err)
		}
	}
	if err := run(); err != nil {
		klog.Fatalf("Failed on error: %+v", err)
	}
}

// ValidatePositive returns a validation of the integer flag with the given name.
func ValidatePositive(name string) func() error {
	return func() error {
		value, err := strconv.Atoi(flag.CommandLine.Lookup(name).Value.String())
		if err != nil {
			return errors.Wrapf(err, "-%s must be an integer", name)
		}
		if value <= 0 {
			return errors.Errorf("-%s must be positive, got %d", name, value)
		}
		return nil
	}
}

func run() error {
	dtype, err := dtypes.DTypeString(*flagDType)
	if err != nil {
		return errors.Wrapf(err, "invalid -dtype=%q", *flagDType)
	}
	opts := payloadtest.ReductionOptions{
		Name:     "reduce",
		Target:   *flagTarget,
		DType:    dtype,
		Rows:     *flagRows,
		Cols:     *flagCols,
		Combiner: *flagCombiner,
		Leading:  *flagLeading,
		Trailing: *flagTrailing,
	}
	k, err := payloadtest.Reduction(opts)
	if err != nil {
		return err
	}
	captures, err := matchers.CaptureReduction(k.Func)
	if err != nil {
		return err
	}

	var buildFn func(seq *transform.Sequence, variant *transform.Handle) error
	switch *flagTarget {
	case "cuda":
		cfg := strategies.DefaultGPUReductionConfig(captures)
		fmt.Printf("GPU configuration: %+v\n", cfg)
		buildFn = func(seq *transform.Sequence, variant *transform.Handle) error {
			return strategies.BuildGPUReductionStrategy(seq, variant, cfg)
		}
	case "llvm-cpu":
		cfg := strategies.DefaultCPUReductionConfig(captures)
		fmt.Printf("CPU configuration: %+v\n", cfg)
		buildFn = func(seq *transform.Sequence, variant *transform.Handle) error {
			return strategies.BuildCPUReductionStrategy(seq, variant, cfg)
		}
	default:
		return errors.Errorf("unknown -target=%q, valid values are %q", *flagTarget, targetValues)
	}
	b, err := transform.CreateTransformRegion(*flagTarget+"_reduction", buildFn)
	if err != nil {
		return err
	}
	script, err := b.Build()
	if err != nil {
		return err
	}
	fmt.Printf("\nScript:\n%s\n", script)
	if *flagJSON {
		data, err := json.MarshalIndent(b, "", "  ")
		if err != nil {
			return errors.Wrap(err, "encoding script to JSON")
		}
		fmt.Printf("JSON:\n%s\n\n", data)
	}
	if !*flagExecute {
		return nil
	}

	fmt.Printf("Program:\n%s\n", k.Graph)
	mode := transform.Propagate
	if *flagSuppress {
		mode = transform.Suppress
	}
	state, execErr := transform.NewInterpreter(strategies.DefaultRegistry()).Execute(b.Main(mode), k.Graph)
	fmt.Printf("Transformed program:\n%s\n", k.Graph)
	if state != nil {
		fmt.Println(statsTable(&state.Stats).Render())
	}
	return execErr
}
