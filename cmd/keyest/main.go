// Command keyest estimates the key of a single 12-bin chroma vector.
//
//	keyest 0.9 0.1 0.4 0.1 0.7 0.3 0.1 0.8 0.1 0.5 0.1 0.3
//	echo "0.9,0.1,0.4,..." | keyest -json
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/term"

	"github.com/RyanBlaney/harmonic-analyzer/algorithms/chroma"
	"github.com/RyanBlaney/harmonic-analyzer/algorithms/tonal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	asJSON := flag.Bool("json", false, "print every estimate as JSON")
	modeName := flag.String("mode", "", "print one mode's estimate and its coefficient for every tonic")
	flag.Parse()

	values, err := readInput(flag.Args(), os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	estimator, err := tonal.NewKeyEstimator(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error building estimator: %v\n", err)
		os.Exit(1)
	}
	list, err := estimator.EstimateKey(values)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	switch {
	case *asJSON:
		err = printJSON(os.Stdout, list)
	case *modeName != "":
		err = printMode(os.Stdout, list, *modeName)
	default:
		printReport(os.Stdout, values, list)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// readInput takes values from args, or one line from stdin when args are empty
func readInput(args []string, stdin *os.File) ([]float64, error) {
	if len(args) > 0 {
		return parseChroma(strings.Join(args, " "))
	}
	if term.IsTerminal(int(stdin.Fd())) {
		fmt.Fprint(os.Stderr, "enter 12 chroma values: ")
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return parseChroma(line)
}

// parseChroma splits on commas and whitespace and expects exactly 12 numbers
func parseChroma(input string) ([]float64, error) {
	fields := strings.FieldsFunc(input, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if len(fields) != chroma.NumPitchClasses {
		return nil, fmt.Errorf("expected %d chroma values, got %d", chroma.NumPitchClasses, len(fields))
	}
	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("value %d (%q): %w", i+1, f, err)
		}
		values[i] = v
	}
	return values, nil
}

func printReport(w io.Writer, values []float64, list *tonal.EstimateList) {
	strongest := map[chroma.PitchClass]bool{}
	for _, pc := range chroma.Dominant(values, 3) {
		strongest[pc] = true
	}

	fmt.Fprintln(w, "Chroma:")
	for i, v := range values {
		pc := chroma.PitchClass(i)
		marker := ""
		if strongest[pc] {
			marker = " *"
		}
		fmt.Fprintf(w, "  %-2s %8.4f%s\n", pc, v, marker)
	}
	stats := chroma.Stats(values)
	fmt.Fprintf(w, "  energy %.4f, entropy %.4f bits, uniformity %.4f\n", stats.Energy, stats.Entropy, stats.Uniformity)

	fmt.Fprintln(w, "\nTop estimates:")
	for i, e := range list.Top(5) {
		fmt.Fprintf(w, "  %d. %-14s %7.4f\n", i+1, e.FullName, e.Correlation)
	}

	best := list.Best()
	fmt.Fprintf(w, "\nBest guess: %s (confidence %.4f, clarity %.4f)\n", best.FullName, best.Correlation, list.Clarity())

	major := list.ForMode(tonal.ModeIonian)
	minor := list.ForMode(tonal.ModeAeolian)
	fmt.Fprintf(w, "Major: %s (%.4f)\n", major.FullName, major.Correlation)
	fmt.Fprintf(w, "Minor: %s (%.4f)\n", minor.FullName, minor.Correlation)
}

func printJSON(w io.Writer, list *tonal.EstimateList) error {
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printMode(w io.Writer, list *tonal.EstimateList, name string) error {
	m, err := tonal.ParseMode(name)
	if err != nil {
		return err
	}
	e := list.ForMode(m)
	fmt.Fprintf(w, "%s: %s (%.4f)\n", e.Mode, e.FullName, e.Correlation)
	for i, c := range e.Coefficients {
		fmt.Fprintf(w, "  %-2s %7.4f\n", chroma.PitchClass(i), c)
	}
	return nil
}
