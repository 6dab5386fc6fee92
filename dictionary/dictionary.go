// Package dictionary implements the layered translation dictionaries used
// to prefill extracted units before any backend is consulted. Dictionaries
// come in three layers with different trust levels: names (proper nouns,
// always applied), ui (short interface tokens) and general (common phrases).
// A project-local layer shadows the global one.
//
// Two backends share the same Lookup contract: an in-memory map for normal
// dictionaries and a sqlite-backed index for very large ones.
package dictionary

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/leonelquinteros/gotext"
	"github.com/tidwall/gjson"
	"golang.org/x/text/cases"
)

// ---------------------------------------------------------------------------
// Layers
// ---------------------------------------------------------------------------

const (
	LayerNames   = "names"
	LayerUI      = "ui"
	LayerGeneral = "general"
)

// layerOrder is the lookup priority: proper nouns first, then UI tokens,
// then general phrases.
var layerOrder = []string{LayerNames, LayerUI, LayerGeneral}

// ---------------------------------------------------------------------------
// Store contract
// ---------------------------------------------------------------------------

// Store is a read/write dictionary backend. Both the memory and the sqlite
// backends satisfy it with identical lookup semantics.
type Store interface {
	// Add records a source → translation pair in a layer. The first entry
	// for a key wins; later duplicates are ignored.
	Add(layer, source, translation string) error
	// Lookup resolves a source text in one layer.
	Lookup(layer, source string) (string, bool)
	// Len reports the number of entries across all layers.
	Len() int
	Close() error
}

// foldKey normalizes a lookup key. Case-insensitive stores apply Unicode
// case folding so "OK" and "Ok" share one entry.
func foldKey(s string, insensitive bool) string {
	s = strings.TrimSpace(s)
	if insensitive {
		s = cases.Fold().String(s)
	}
	return s
}

// ---------------------------------------------------------------------------
// Memory backend
// ---------------------------------------------------------------------------

// Memory is the default in-memory dictionary backend.
type Memory struct {
	insensitive bool
	layers      map[string]map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory(caseInsensitive bool) *Memory {
	return &Memory{insensitive: caseInsensitive, layers: make(map[string]map[string]string)}
}

func (m *Memory) Add(layer, source, translation string) error {
	key := foldKey(source, m.insensitive)
	if key == "" || translation == "" {
		return nil
	}
	entries := m.layers[layer]
	if entries == nil {
		entries = make(map[string]string)
		m.layers[layer] = entries
	}
	if _, ok := entries[key]; !ok {
		entries[key] = translation
	}
	return nil
}

func (m *Memory) Lookup(layer, source string) (string, bool) {
	zh, ok := m.layers[layer][foldKey(source, m.insensitive)]
	return zh, ok
}

func (m *Memory) Len() int {
	n := 0
	for _, entries := range m.layers {
		n += len(entries)
	}
	return n
}

func (m *Memory) Close() error { return nil }

// ---------------------------------------------------------------------------
// Layered lookup
// ---------------------------------------------------------------------------

// Layered resolves lookups across a project-local store and a global one.
// The local store wins; the names layer of either beats the ui layer of
// either, and so on down the layer order.
type Layered struct {
	Local  Store
	Global Store
}

// Hit describes where a layered lookup resolved.
type Hit struct {
	Translation string
	Layer       string
	FromLocal   bool
}

// Lookup resolves source across both stores, highest-priority layer first.
func (l *Layered) Lookup(source string) (Hit, bool) {
	for _, layer := range layerOrder {
		if h, ok := l.lookupLayer(layer, source); ok {
			return h, true
		}
	}
	return Hit{}, false
}

// LookupLayer resolves source in one named layer only.
func (l *Layered) LookupLayer(layer, source string) (Hit, bool) {
	return l.lookupLayer(layer, source)
}

func (l *Layered) lookupLayer(layer, source string) (Hit, bool) {
	if l.Local != nil {
		if zh, ok := l.Local.Lookup(layer, source); ok {
			return Hit{Translation: zh, Layer: layer, FromLocal: true}, true
		}
	}
	if l.Global != nil {
		if zh, ok := l.Global.Lookup(layer, source); ok {
			return Hit{Translation: zh, Layer: layer}, true
		}
	}
	return Hit{}, false
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// sourceKeys and translationKeys are the accepted column/field names in
// JSONL and CSV dictionaries produced by various tool generations.
var (
	sourceKeys      = []string{"variant_en", "canonical_en", "en", "english"}
	translationKeys = []string{"zh", "zh_final", "cn", "chinese"}
)

// Load reads one dictionary file into a store layer. The format follows
// the extension: .jsonl, .csv or .po.
func Load(store Store, layer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening dictionary %s: %w", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl":
		return loadJSONL(store, layer, f)
	case ".csv":
		return loadCSV(store, layer, f)
	case ".po":
		return loadPO(store, layer, f)
	default:
		return fmt.Errorf("unsupported dictionary format: %s", path)
	}
}

// LoadDir reads every recognized dictionary file in a directory. Files
// named names.*, ui.* or general.* go to their matching layer; anything
// else lands in the general layer.
func LoadDir(store Store, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading dictionary dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".jsonl" && ext != ".csv" && ext != ".po" {
			continue
		}
		layer := LayerGeneral
		switch strings.ToLower(strings.TrimSuffix(e.Name(), ext)) {
		case LayerNames:
			layer = LayerNames
		case LayerUI:
			layer = LayerUI
		}
		if err := Load(store, layer, filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// LoadPath loads a dictionary file or directory into a store.
func LoadPath(store Store, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("dictionary path: %w", err)
	}
	if info.IsDir() {
		return LoadDir(store, path)
	}
	return Load(store, LayerGeneral, path)
}

func firstField(raw []byte, keys []string) string {
	for _, key := range keys {
		if v := gjson.GetBytes(raw, key); v.Exists() && strings.TrimSpace(v.String()) != "" {
			return v.String()
		}
	}
	return ""
}

func loadJSONL(store Store, layer string, r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		raw := []byte(strings.TrimSpace(sc.Text()))
		if len(raw) == 0 || !gjson.ValidBytes(raw) {
			continue
		}
		en := firstField(raw, sourceKeys)
		zh := firstField(raw, translationKeys)
		if en == "" || zh == "" {
			continue
		}
		if err := store.Add(layer, en, zh); err != nil {
			return err
		}
		// A record carrying both spelling variants maps both to the same
		// translation.
		if canonical := gjson.GetBytes(raw, "canonical_en").String(); canonical != "" && canonical != en {
			if err := store.Add(layer, canonical, zh); err != nil {
				return err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading dictionary JSONL: %w", err)
	}
	return nil
}

func loadCSV(store Store, layer string, r io.Reader) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading dictionary CSV header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	field := func(row []string, keys []string) string {
		for _, key := range keys {
			if i, ok := col[key]; ok && i < len(row) && strings.TrimSpace(row[i]) != "" {
				return row[i]
			}
		}
		return ""
	}
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading dictionary CSV row: %w", err)
		}
		en := field(row, sourceKeys)
		zh := field(row, translationKeys)
		if en == "" || zh == "" {
			continue
		}
		if err := store.Add(layer, en, zh); err != nil {
			return err
		}
		if i, ok := col["canonical_en"]; ok && i < len(row) && row[i] != "" && row[i] != en {
			if err := store.Add(layer, row[i], zh); err != nil {
				return err
			}
		}
	}
}

// loadPO reads a gettext PO catalog: msgid → msgstr pairs.
func loadPO(store Store, layer string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading dictionary PO: %w", err)
	}
	p := gotext.NewPo()
	p.Parse(data)
	for id, tr := range p.GetDomain().GetTranslations() {
		if id == "" {
			continue
		}
		zh := tr.Get()
		if zh == "" || zh == id {
			continue
		}
		if err := store.Add(layer, id, zh); err != nil {
			return err
		}
	}
	return nil
}
