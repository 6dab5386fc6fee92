package validate

import (
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"sort"
	"strings"

	"github.com/vn-tools/rploc/unit"
)

// ---------------------------------------------------------------------------
// Report
// ---------------------------------------------------------------------------

// Summary aggregates a validation run.
type Summary struct {
	Total   int            `json:"total"`
	Passed  int            `json:"passed"`
	Failed  int            `json:"failed"`
	PerRule map[string]int `json:"per_rule,omitempty"`
}

// Report is the full outcome of validating a translated unit set.
type Report struct {
	Summary Summary  `json:"summary"`
	Results []Result `json:"results"`
}

// Run validates every translated unit and aggregates the outcome. Only
// results with findings are kept in the report body; clean units count
// toward the summary only.
func Run(units []*unit.TextUnit, opts Options) *Report {
	rep := &Report{Summary: Summary{PerRule: make(map[string]int)}}
	for _, u := range units {
		res := Unit(u, opts)
		rep.Summary.Total++
		if res.Passed {
			rep.Summary.Passed++
		} else {
			rep.Summary.Failed++
		}
		for _, f := range res.Findings {
			rep.Summary.PerRule[f.Rule]++
		}
		if len(res.Findings) > 0 {
			rep.Results = append(rep.Results, res)
		}
	}
	return rep
}

// WriteJSON writes the report as one indented JSON document.
func (r *Report) WriteJSON(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report %s: %w", path, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteTSV writes one row per finding: unit id, rule, level, severity,
// message.
func (r *Report) WriteTSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report %s: %w", path, err)
	}
	defer f.Close()

	var b strings.Builder
	b.WriteString("unit_id\trule\tlevel\tseverity\tmessage\n")
	for _, res := range r.Results {
		for _, fd := range res.Findings {
			fmt.Fprintf(&b, "%s\t%s\t%d\t%s\t%s\n",
				res.UnitID, fd.Rule, fd.Level, fd.Severity,
				strings.ReplaceAll(fd.Message, "\t", " "))
		}
	}
	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("writing report %s: %w", path, err)
	}
	return nil
}

// reportTemplate renders the report as a self-contained static page.
var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>QA report</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: left; }
tr.error td.severity { color: #b00; font-weight: bold; }
tr.warning td.severity { color: #a60; }
.summary { margin-bottom: 1em; }
</style>
</head>
<body>
<h1>QA report</h1>
<p class="summary">{{.Summary.Total}} units: {{.Summary.Passed}} passed, {{.Summary.Failed}} rejected.</p>
<h2>Failures by rule</h2>
<table>
<tr><th>rule</th><th>count</th></tr>
{{range .Rules}}<tr><td>{{.Rule}}</td><td>{{.Count}}</td></tr>
{{end}}</table>
<h2>Findings</h2>
<table>
<tr><th>unit</th><th>rule</th><th>level</th><th>severity</th><th>message</th></tr>
{{range .Rows}}<tr class="{{.Severity}}"><td>{{.UnitID}}</td><td>{{.Rule}}</td><td>{{.Level}}</td><td class="severity">{{.Severity}}</td><td>{{.Message}}</td></tr>
{{end}}</table>
</body>
</html>
`))

// WriteHTML renders the report as a local static page.
func (r *Report) WriteHTML(path string) error {
	type row struct {
		UnitID   string
		Rule     string
		Level    Level
		Severity Severity
		Message  string
	}
	type ruleCount struct {
		Rule  string
		Count int
	}
	var data struct {
		Summary Summary
		Rules   []ruleCount
		Rows    []row
	}
	data.Summary = r.Summary
	for rule, n := range r.Summary.PerRule {
		data.Rules = append(data.Rules, ruleCount{Rule: rule, Count: n})
	}
	sort.Slice(data.Rules, func(i, j int) bool {
		if data.Rules[i].Count != data.Rules[j].Count {
			return data.Rules[i].Count > data.Rules[j].Count
		}
		return data.Rules[i].Rule < data.Rules[j].Rule
	})
	for _, res := range r.Results {
		for _, fd := range res.Findings {
			data.Rows = append(data.Rows, row{
				UnitID:   res.UnitID,
				Rule:     fd.Rule,
				Level:    fd.Level,
				Severity: fd.Severity,
				Message:  fd.Message,
			})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report %s: %w", path, err)
	}
	defer f.Close()
	if err := reportTemplate.Execute(f, data); err != nil {
		return fmt.Errorf("rendering report %s: %w", path, err)
	}
	return nil
}
