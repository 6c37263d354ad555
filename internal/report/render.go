package report

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"fairlens/domain/feature"
	"fairlens/domain/stats"
	"fairlens/internal/investigation"
)

// Render writes the audit report for the batch and marks every investigation
// reported. All investigations must be tested and validated; nothing is
// written or mutated on a phase violation.
func Render(w io.Writer, invs []*investigation.Investigation, p Params) error {
	p, err := p.normalized()
	if err != nil {
		return err
	}
	if err := validateBatch(invs); err != nil {
		return err
	}

	var buf bytes.Buffer
	for i, inv := range invs {
		if i > 0 {
			buf.WriteString("\n")
		}
		if p.Format == FormatMarkdown {
			renderMarkdown(&buf, inv, p)
		} else {
			renderText(&buf, inv, p)
		}
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}

	for _, inv := range invs {
		if err := inv.MarkReported(); err != nil {
			return err
		}
	}
	return nil
}

func renderText(buf *bytes.Buffer, inv *investigation.Investigation, p Params) {
	fmt.Fprintf(buf, "fairlens audit report\n")
	fmt.Fprintf(buf, "dataset: %s\n", inv.Name())
	fmt.Fprintf(buf, "train rows: %d\n", inv.Source().Train().Rows())
	fmt.Fprintf(buf, "test rows: %d\n", testedRows(inv))
	if m := familySize(inv); m > 0 {
		fmt.Fprintf(buf, "hypothesis family: %d (%s)\n", m, correctionNote(inv))
	}
	reg := inv.Registry()
	fmt.Fprintf(buf, "protected: %s\n", featureNames(reg.ProtectedFeatures()))
	fmt.Fprintf(buf, "context: %s\n", featureNames(reg.ContextFeatures()))
	if expl := inv.Explanatory(); expl != nil {
		fmt.Fprintf(buf, "explanatory: %s\n", expl.Name)
	}
	fmt.Fprintf(buf, "target: %s\n", strings.Join(reg.Target().Names, ", "))
	fmt.Fprintf(buf, "train params: %s\n", trainParams(inv))
	fmt.Fprintf(buf, "report params: %s\n", reportParams(p))

	for _, s := range inv.Studies() {
		rows := selectContexts(s, p)
		fmt.Fprintf(buf, "\n== %s — metric %s ==\n", s.Protected.Name, s.Metric.Name())
		if len(s.Contexts) == 0 {
			fmt.Fprintf(buf, "no contexts were tested\n")
			continue
		}
		fmt.Fprintf(buf, "reported %d of %d contexts\n", len(rows), len(s.Contexts))
		if len(rows) == 0 {
			fmt.Fprintf(buf, "no contexts survive the filters\n")
			continue
		}
		for i, r := range rows {
			fmt.Fprintf(buf, "\n#%d %s\n", i+1, r.ctx.Description)
			if r.rec.IsDegenerate() {
				fmt.Fprintf(buf, "  N=%d  insufficient evidence: %s\n", r.rec.N, r.rec.Degeneracy)
				continue
			}
			fmt.Fprintf(buf, "  N=%d  effect=%.4f  CI=[%.4f, %.4f]  p=%.3g  corrected=%.3g\n",
				r.rec.N, r.rec.Effect, r.rec.CI.Lo, r.rec.CI.Hi, r.rec.PValue, r.rec.CorrectedP)
		}
	}
}

func renderMarkdown(buf *bytes.Buffer, inv *investigation.Investigation, p Params) {
	fmt.Fprintf(buf, "# Audit report — %s\n\n", inv.Name())
	fmt.Fprintf(buf, "- **Train rows:** %d\n", inv.Source().Train().Rows())
	fmt.Fprintf(buf, "- **Test rows:** %d\n", testedRows(inv))
	if m := familySize(inv); m > 0 {
		fmt.Fprintf(buf, "- **Hypothesis family:** %d (%s)\n", m, correctionNote(inv))
	}
	reg := inv.Registry()
	fmt.Fprintf(buf, "- **Protected:** %s\n", featureNames(reg.ProtectedFeatures()))
	fmt.Fprintf(buf, "- **Context:** %s\n", featureNames(reg.ContextFeatures()))
	if expl := inv.Explanatory(); expl != nil {
		fmt.Fprintf(buf, "- **Explanatory:** %s\n", expl.Name)
	}
	fmt.Fprintf(buf, "- **Target:** %s\n", strings.Join(reg.Target().Names, ", "))
	fmt.Fprintf(buf, "- **Train params:** `%s`\n", trainParams(inv))
	fmt.Fprintf(buf, "- **Report params:** `%s`\n", reportParams(p))

	for _, s := range inv.Studies() {
		rows := selectContexts(s, p)
		fmt.Fprintf(buf, "\n## %s — %s\n\n", s.Protected.Name, s.Metric.Name())
		if len(s.Contexts) == 0 {
			fmt.Fprintf(buf, "No contexts were tested.\n")
			continue
		}
		fmt.Fprintf(buf, "Reported %d of %d contexts.\n", len(rows), len(s.Contexts))
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(buf, "\n| # | context | N | effect | CI | p | corrected p |\n")
		fmt.Fprintf(buf, "|---|---------|---|--------|----|---|-------------|\n")
		for i, r := range rows {
			if r.rec.IsDegenerate() {
				fmt.Fprintf(buf, "| %d | %s | %d | insufficient evidence: %s | | | |\n",
					i+1, r.ctx.Description, r.rec.N, r.rec.Degeneracy)
				continue
			}
			fmt.Fprintf(buf, "| %d | %s | %d | %.4f | [%.4f, %.4f] | %.3g | %.3g |\n",
				i+1, r.ctx.Description, r.rec.N, r.rec.Effect,
				r.rec.CI.Lo, r.rec.CI.Hi, r.rec.PValue, r.rec.CorrectedP)
		}
	}
}

// testedRows is the size of the holdout slice the batch was tested on, read
// off the whole-population context.
func testedRows(inv *investigation.Investigation) int {
	for _, s := range inv.Studies() {
		if len(s.Contexts) > 0 {
			return s.Contexts[0].Rows
		}
	}
	return 0
}

// familySize is the correction family the validator stamped on the records.
func familySize(inv *investigation.Investigation) int {
	for _, s := range inv.Studies() {
		if len(s.Records) > 0 {
			return s.Records[0].FamilySize
		}
	}
	return 0
}

func featureNames(fs []feature.Feature) string {
	if len(fs) == 0 {
		return "(none)"
	}
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = f.Name
	}
	return strings.Join(names, ", ")
}

func trainParams(inv *investigation.Investigation) string {
	tp := inv.Params()
	return fmt.Sprintf("max_depth=%d min_leaf_size=%d agg=%s max_bins=%d subsample=%.2f seed=%d",
		tp.MaxDepth, tp.MinLeafSize, tp.Agg, tp.MaxBins, tp.SubsampleFrac, tp.Seed)
}

func reportParams(p Params) string {
	return fmt.Sprintf("filter=%s filter_conf=%.2f format=%s", p.Filter, p.FilterConf, p.Format)
}

// correctionNote explains how the corrected p column was produced.
func correctionNote(inv *investigation.Investigation) string {
	for _, s := range inv.Studies() {
		for _, r := range s.Records {
			if r.Correction == stats.CorrectionSidak {
				return "Sidak-adjusted"
			}
		}
	}
	return "uncorrected"
}
