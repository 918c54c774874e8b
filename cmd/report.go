package cmd

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/pathwise-sim/sim/scenario"
)

// reportPlaces is the number of decimal places printed for values, Deltas and errors.
const reportPlaces = 8

// Report is the serialized form of a scenario run.
type Report struct {
	RunID     string          `yaml:"run_id"`
	Scenario  string          `yaml:"scenario"`
	Paths     int             `yaml:"paths"`
	Workers   int             `yaml:"workers"`
	ElapsedMs int64           `yaml:"elapsed_ms"`
	Products  []ProductReport `yaml:"products"`
}

// ProductReport holds one sub-product's value and Deltas with their standard errors.
type ProductReport struct {
	Name        string            `yaml:"name"`
	Value       decimal.Decimal   `yaml:"value"`
	ValueError  decimal.Decimal   `yaml:"value_error"`
	Deltas      []decimal.Decimal `yaml:"deltas"`
	DeltaErrors []decimal.Decimal `yaml:"delta_errors"`
}

func round(x float64) decimal.Decimal {
	return decimal.NewFromFloat(x).Round(reportPlaces)
}

func roundAll(xs []float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(xs))
	for i, x := range xs {
		out[i] = round(x)
	}
	return out
}

// NewReport converts a run result into a Report.
func NewReport(res *scenario.Result) *Report {
	rep := &Report{
		RunID:     res.RunID.String(),
		Scenario:  res.Scenario,
		Paths:     res.Paths,
		Workers:   res.Workers,
		ElapsedMs: res.Elapsed.Milliseconds(),
		Products:  make([]ProductReport, len(res.Labels)),
	}
	for p, label := range res.Labels {
		v, vErr := res.Values(p)
		d, dErr := res.Deltas(p)
		rep.Products[p] = ProductReport{
			Name:        label,
			Value:       round(v),
			ValueError:  round(vErr),
			Deltas:      roundAll(d),
			DeltaErrors: roundAll(dErr),
		}
	}
	return rep
}

// MarshalYAML renders decimals as plain strings so no precision is lost to float parsing.
func (p ProductReport) MarshalYAML() (interface{}, error) {
	strs := func(ds []decimal.Decimal) []string {
		out := make([]string, len(ds))
		for i, d := range ds {
			out[i] = d.StringFixed(reportPlaces)
		}
		return out
	}
	return struct {
		Name        string   `yaml:"name"`
		Value       string   `yaml:"value"`
		ValueError  string   `yaml:"value_error"`
		Deltas      []string `yaml:"deltas,flow"`
		DeltaErrors []string `yaml:"delta_errors,flow"`
	}{
		Name:        p.Name,
		Value:       p.Value.StringFixed(reportPlaces),
		ValueError:  p.ValueError.StringFixed(reportPlaces),
		Deltas:      strs(p.Deltas),
		DeltaErrors: strs(p.DeltaErrors),
	}, nil
}

// writeReport prints res to w in the requested format ("text" or "yaml").
func writeReport(w io.Writer, res *scenario.Result, format string) error {
	rep := NewReport(res)
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		return writeText(w, rep)
	default:
		return fmt.Errorf("unknown report format %q (want text or yaml)", format)
	}
}

func writeText(w io.Writer, rep *Report) error {
	if _, err := fmt.Fprintf(w, "=== Pathwise Run %s ===\n", rep.RunID); err != nil {
		return err
	}
	fmt.Fprintf(w, "Scenario : %s\n", rep.Scenario)
	fmt.Fprintf(w, "Paths    : %d on %d workers (%d ms)\n", rep.Paths, rep.Workers, rep.ElapsedMs)
	for _, p := range rep.Products {
		fmt.Fprintf(w, "\n--- %s ---\n", p.Name)
		fmt.Fprintf(w, "Value    : %s ± %s\n", p.Value.StringFixed(reportPlaces), p.ValueError.StringFixed(reportPlaces))
		for j := range p.Deltas {
			fmt.Fprintf(w, "Delta[%d] : %s ± %s\n", j, p.Deltas[j].StringFixed(reportPlaces), p.DeltaErrors[j].StringFixed(reportPlaces))
		}
	}
	return nil
}
