package probe

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"crossbench/internal/logging"
	"crossbench/internal/metrics"

	"github.com/dustin/go-humanize"
	cp "github.com/otiai10/copy"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

type Level string

const (
	LevelRepetitions Level = "repetitions"
	LevelStories     Level = "stories"
	LevelBrowsers    Level = "browsers"
)

// Child is one result folded into a group, labelled with the repetition
// index, story name or browser name it came from.
type Child struct {
	Label  string
	Result *ProbeResult
}

// Group is the input of a merge. Children are in declaration order and are
// only read; the merged result is written below OutDir.
type Group struct {
	Level    Level
	Name     string
	OutDir   string
	Children []Child
	Metrics  *metrics.Collector
}

// MergePolicy selects how a probe folds child results. The zero value
// refuses to merge more than one non-empty child so probes have to pick a
// policy instead of silently keeping the last result.
type MergePolicy int

const (
	MergeErrorIfMany MergePolicy = iota
	MergeTakeLast
	MergeCollect
	MergeText
	MergeBinary
	MergeCSV
	MergeJSON
	MergeNone
)

func (m MergePolicy) String() string {
	switch m {
	case MergeErrorIfMany:
		return "error-if-many"
	case MergeTakeLast:
		return "take-last"
	case MergeCollect:
		return "collect"
	case MergeText:
		return "text"
	case MergeBinary:
		return "binary"
	case MergeCSV:
		return "csv"
	case MergeJSON:
		return "json"
	case MergeNone:
		return "none"
	default:
		return fmt.Sprintf("MergePolicy(%d)", int(m))
	}
}

// Merge folds the group's children into a single result with policy.
func Merge(ctx context.Context, policy MergePolicy, probeName string, g *Group) (*ProbeResult, error) {
	if policy == MergeNone {
		return EmptyResult(), nil
	}
	for _, c := range g.Children {
		if c.Result != nil && c.Result.Kind == KindBrowser {
			return nil, fmt.Errorf("probe %s: child %s still holds browser files, pull them in tear down", probeName, c.Label)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(g.OutDir, 0o755); err != nil {
		return nil, err
	}

	var (
		result *ProbeResult
		err    error
	)
	switch policy {
	case MergeErrorIfMany, MergeTakeLast:
		result, err = mergeSingle(policy, probeName, g)
	case MergeCollect:
		result, err = mergeCollect(probeName, g)
	case MergeText:
		result, err = mergeFiles(probeName, g, appendText)
	case MergeBinary:
		result, err = mergeFiles(probeName, g, appendBinary)
	case MergeCSV:
		result, err = mergeFiles(probeName, g, appendCSV)
	case MergeJSON:
		result, err = mergeJSON(probeName, g)
	default:
		return nil, fmt.Errorf("probe %s: unknown merge policy %s", probeName, policy)
	}
	if err != nil {
		return nil, fmt.Errorf("probe %s: %s merge of %s failed: %w", probeName, g.Level, g.Name, err)
	}
	logMerged(probeName, g, policy, result)
	return result, nil
}

type childFile struct {
	label string
	path  string
}

// existingFiles lists the child files in order, skipping the ones that a
// failed run never produced.
func existingFiles(probeName string, g *Group) []childFile {
	var files []childFile
	for _, c := range g.Children {
		if c.Result == nil {
			continue
		}
		for _, f := range c.Result.Files {
			if _, err := os.Stat(f); err != nil {
				logging.GetLogger().WithFields(logrus.Fields{
					"probe": probeName,
					"level": g.Level,
					"child": c.Label,
					"file":  f,
				}).Info("Skipping missing result file")
				g.Metrics.MergeSkipped(probeName, string(g.Level))
				continue
			}
			files = append(files, childFile{label: c.Label, path: f})
		}
	}
	return files
}

func mergeSingle(policy MergePolicy, probeName string, g *Group) (*ProbeResult, error) {
	var present []Child
	for _, c := range g.Children {
		if !c.Result.IsEmpty() {
			present = append(present, c)
		}
	}
	if len(present) == 0 {
		return EmptyResult(), nil
	}
	if len(present) > 1 && policy == MergeErrorIfMany {
		return nil, fmt.Errorf("%d results to merge but no merge policy", len(present))
	}
	last := present[len(present)-1]
	if last.Result.Kind == KindJSON && len(last.Result.Files) == 0 {
		return JSONResult(last.Result.JSON, ""), nil
	}

	var out []string
	for _, f := range existingFiles(probeName, &Group{Level: g.Level, Metrics: g.Metrics, Children: []Child{last}}) {
		dst := filepath.Join(g.OutDir, filepath.Base(f.path))
		if err := cp.Copy(f.path, dst); err != nil {
			return nil, err
		}
		out = append(out, dst)
	}
	if last.Result.Kind == KindJSON {
		return &ProbeResult{Kind: KindJSON, JSON: last.Result.JSON, Files: out}, nil
	}
	return LocalResult(out...), nil
}

// mergeCollect copies every child's files into a sub directory per child,
// keeping their layout relative to the child's common directory.
func mergeCollect(probeName string, g *Group) (*ProbeResult, error) {
	var out []string
	for _, c := range g.Children {
		files := existingFiles(probeName, &Group{Level: g.Level, Metrics: g.Metrics, Children: []Child{c}})
		paths := make([]string, len(files))
		for i, f := range files {
			paths[i] = f.path
		}
		root := commonDir(paths)
		for _, src := range paths {
			rel, err := filepath.Rel(root, src)
			if err != nil {
				return nil, err
			}
			dst := filepath.Join(g.OutDir, probeName, sanitizeLabel(c.Label), rel)
			if err := cp.Copy(src, dst); err != nil {
				return nil, err
			}
			out = append(out, dst)
		}
	}
	if len(out) == 0 {
		return EmptyResult(), nil
	}
	return LocalResult(out...), nil
}

func commonDir(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	root := filepath.Dir(paths[0])
	for _, p := range paths[1:] {
		for !strings.HasPrefix(p, root+string(os.PathSeparator)) && root != filepath.Dir(root) {
			root = filepath.Dir(root)
		}
	}
	return root
}

type appendFunc func(w io.Writer, src string, first bool) error

// mergeFiles seeds the output with the first child file and appends the
// rest with fn.
func mergeFiles(probeName string, g *Group, fn appendFunc) (*ProbeResult, error) {
	files := existingFiles(probeName, g)
	if len(files) == 0 {
		return EmptyResult(), nil
	}
	out := filepath.Join(g.OutDir, probeName+filepath.Ext(files[0].path))
	if len(files) == 1 {
		if err := cp.Copy(files[0].path, out); err != nil {
			return nil, err
		}
		return LocalResult(out), nil
	}

	f, err := os.Create(out)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(f)
	for i, src := range files {
		if filepath.Clean(src.path) == filepath.Clean(out) {
			f.Close()
			return nil, fmt.Errorf("child file %s is the merge target", src.path)
		}
		if err := fn(w, src.path, i == 0); err != nil {
			f.Close()
			return nil, err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return LocalResult(out), nil
}

func copyInto(w io.Writer, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// appendText separates children with a header naming the source file. The
// seed gets no header so merging is associative.
func appendText(w io.Writer, src string, first bool) error {
	if !first {
		if _, err := fmt.Fprintf(w, "\n==> %s <==\n", src); err != nil {
			return err
		}
	}
	return copyInto(w, src)
}

func appendBinary(w io.Writer, src string, first bool) error {
	return copyInto(w, src)
}

// appendCSV keeps the header row of the first file only.
func appendCSV(w io.Writer, src string, first bool) error {
	if first {
		return copyInto(w, src)
	}
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	r := bufio.NewReader(f)
	if _, err := r.ReadString('\n'); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	_, err = io.Copy(w, r)
	return err
}

// Metric is the merged form of a numeric JSON leaf.
type Metric struct {
	Values  []float64 `json:"values"`
	Count   int       `json:"count"`
	Average float64   `json:"average"`
	Min     float64   `json:"min"`
	Max     float64   `json:"max"`
	Stddev  float64   `json:"stddev"`
}

func NewMetric(values []float64) Metric {
	m := Metric{Values: values, Count: len(values)}
	if len(values) == 0 {
		return m
	}
	m.Min = floats.Min(values)
	m.Max = floats.Max(values)
	if len(values) == 1 {
		// gonum reports NaN for the spread of a single value.
		m.Average = values[0]
		return m
	}
	m.Average, m.Stddev = stat.PopMeanStdDev(values, nil)
	return m
}

// mergeJSON folds numeric leaves. Repetitions collect values per metric
// path, stories prefix paths with the story label and browsers nest the
// story maps under the browser label.
func mergeJSON(probeName string, g *Group) (*ProbeResult, error) {
	out := filepath.Join(g.OutDir, probeName+".json")
	var payload any

	switch g.Level {
	case LevelBrowsers:
		nested := map[string]map[string]Metric{}
		for _, c := range g.Children {
			values, ok, err := childValues(probeName, g, c)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			nested[c.Label] = foldValues(values)
		}
		if len(nested) == 0 {
			return EmptyResult(), nil
		}
		payload = nested
	default:
		merged := map[string][]float64{}
		for _, c := range g.Children {
			values, ok, err := childValues(probeName, g, c)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			for key, v := range values {
				if g.Level == LevelStories {
					key = c.Label + "/" + key
				}
				merged[key] = append(merged[key], v...)
			}
		}
		if len(merged) == 0 {
			return EmptyResult(), nil
		}
		payload = foldValues(merged)
	}
	return WriteJSONResult(payload, out)
}

func foldValues(values map[string][]float64) map[string]Metric {
	folded := make(map[string]Metric, len(values))
	for key, v := range values {
		folded[key] = NewMetric(v)
	}
	return folded
}

// childValues loads a child's JSON payload and flattens it to metric paths.
func childValues(probeName string, g *Group, c Child) (map[string][]float64, bool, error) {
	if c.Result.IsEmpty() {
		return nil, false, nil
	}
	var raw []byte
	if c.Result.JSON != nil {
		data, err := json.Marshal(c.Result.JSON)
		if err != nil {
			return nil, false, err
		}
		raw = data
	} else {
		files := existingFiles(probeName, &Group{Level: g.Level, Metrics: g.Metrics, Children: []Child{c}})
		if len(files) == 0 {
			return nil, false, nil
		}
		data, err := os.ReadFile(files[0].path)
		if err != nil {
			return nil, false, err
		}
		raw = data
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false, fmt.Errorf("child %s: invalid json: %w", c.Label, err)
	}
	values := map[string][]float64{}
	flatten("", doc, values)
	return values, true, nil
}

func flatten(prefix string, node any, out map[string][]float64) {
	switch v := node.(type) {
	case float64:
		out[prefix] = append(out[prefix], v)
	case []any:
		for _, item := range v {
			if f, ok := item.(float64); ok {
				out[prefix] = append(out[prefix], f)
			}
		}
	case map[string]any:
		if isMetric(v) {
			flatten(prefix, v["values"], out)
			return
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			key := k
			if prefix != "" {
				key = prefix + "/" + k
			}
			flatten(key, v[k], out)
		}
	}
}

func isMetric(m map[string]any) bool {
	_, hasValues := m["values"].([]any)
	_, hasCount := m["count"]
	return hasValues && hasCount
}

func sanitizeLabel(label string) string {
	if label == "" {
		return "_"
	}
	return strings.NewReplacer("/", "_", string(os.PathSeparator), "_").Replace(label)
}

func logMerged(probeName string, g *Group, policy MergePolicy, r *ProbeResult) {
	var size uint64
	for _, f := range r.Files {
		if info, err := os.Stat(f); err == nil {
			size += uint64(info.Size())
		}
	}
	logging.GetLogger().WithFields(logrus.Fields{
		"probe":    probeName,
		"level":    g.Level,
		"group":    g.Name,
		"policy":   policy,
		"children": len(g.Children),
		"size":     humanize.Bytes(size),
	}).Debug("Merged probe results")
}
