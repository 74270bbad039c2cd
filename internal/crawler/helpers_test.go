package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nomenclature-crawler/internal/clock/system"
	"github.com/JakeFAU/nomenclature-crawler/internal/progress"
)

var testDay = time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

// memStore round-trips the state through JSON the way a real backend would.
type memStore struct {
	mu      sync.Mutex
	data    []byte
	saves   int
	cleared int
}

func (m *memStore) Load(context.Context) *CrawlState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return NewCrawlState(DefaultCountryCode, "France")
	}
	var s CrawlState
	if err := json.Unmarshal(m.data, &s); err != nil {
		return NewCrawlState(DefaultCountryCode, "France")
	}
	s.Normalize()
	return &s
}

func (m *memStore) Save(_ context.Context, s *CrawlState) {
	data, err := json.Marshal(s)
	if err != nil {
		panic(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	m.saves++
}

func (m *memStore) Clear(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	m.cleared++
}

// fakeFetcher serves a fixed tree per country.
type fakeFetcher struct {
	mu       sync.Mutex
	trees    map[string]map[string][]RawNode
	failures map[string]error
	calls    []string
	hook     func(ctx context.Context, parentID string) error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		trees: map[string]map[string][]RawNode{
			"FR": frenchTree(),
			"DE": germanTree(),
		},
		failures: map[string]error{},
	}
}

func (f *fakeFetcher) FetchNodes(ctx context.Context, countryCode, parentID string) ([]RawNode, error) {
	f.mu.Lock()
	f.calls = append(f.calls, countryCode+"/"+parentID)
	hook := f.hook
	failure := f.failures[parentID]
	tree := f.trees[countryCode]
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, parentID); err != nil {
			return nil, err
		}
	}
	if failure != nil {
		return nil, failure
	}
	return append([]RawNode(nil), tree[parentID]...), nil
}

func (f *fakeFetcher) fail(parentID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[parentID] = err
}

func (f *fakeFetcher) heal(parentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, parentID)
}

func (f *fakeFetcher) setHook(hook func(ctx context.Context, parentID string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = hook
}

func (f *fakeFetcher) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == key {
			n++
		}
	}
	return n
}

func sectionI() *RawSection {
	return &RawSection{Code: "I", ID: "100", Description: "Section I", LongDescription: "Live animals; animal products"}
}

func frenchTree() map[string][]RawNode {
	sectionV := &RawSection{Code: "V", ID: "500", Description: "Section V", LongDescription: "Mineral products"}
	return map[string][]RawNode{
		"": {
			{ID: "1", Code: "01", HasChildren: true, Description: "Live animals", Section: sectionI()},
			{ID: "2", Code: "02", HasChildren: true, Description: "Meat", Section: sectionI()},
			{ID: "3", Code: "25", HasChildren: true, Description: "Salt", Section: sectionV},
		},
		"1":  {{ID: "11", Code: "0101", HasChildren: true, Description: "Horses"}},
		"11": {{ID: "111", Code: "010121", Description: "Pure-bred"}, {ID: "112", Code: "010129", Description: "Other"}},
		"2":  {{ID: "21", Code: "020110", Description: "Carcasses"}},
		"3":  {{ID: "31", Code: "250100", Description: "Salt"}, {ID: "32", Description: "Heading without code"}},
	}
}

func germanTree() map[string][]RawNode {
	return map[string][]RawNode{
		"": {
			{ID: "900", Code: "01", Description: "Tiere", Section: &RawSection{Code: "I", Description: "Abschnitt I", LongDescription: "Lebende Tiere"}},
		},
	}
}

const (
	frenchSectionIFile = "fr__section_i__live_animals_animal_products__2026-10-19.json"
	frenchSectionVFile = "fr__section_v__mineral_products__2026-10-19.json"
)

// Roots are popped last-first; children keep response order.
func expectedSectionI() []Record {
	return []Record{
		{HSCode: "020110", Description: "Live animals; animal products, Meat, Carcasses", Section: "Section I", SectionName: "Live animals; animal products", Chapter: "02", Heading: "0201", Subheading: "10"},
		{HSCode: "010121", Description: "Live animals; animal products, Live animals, Horses, Pure-bred", Section: "Section I", SectionName: "Live animals; animal products", Chapter: "01", Heading: "0101", Subheading: "21"},
		{HSCode: "010129", Description: "Live animals; animal products, Live animals, Horses, Other", Section: "Section I", SectionName: "Live animals; animal products", Chapter: "01", Heading: "0101", Subheading: "29"},
	}
}

func expectedSectionV() []Record {
	return []Record{
		{HSCode: "250100", Description: "Mineral products, Salt", Section: "Section V", SectionName: "Mineral products", Chapter: "25", Heading: "2501", Subheading: "00"},
	}
}

// fakeBlobs is an in-memory BlobStore that can be told to fail.
type fakeBlobs struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{files: map[string][]byte{}}
}

func (b *fakeBlobs) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(data); err != nil {
		return "", err
	}
	b.files[path] = buf.Bytes()
	return "mem://" + path, nil
}

func (b *fakeBlobs) setErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

func (b *fakeBlobs) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.files))
	for name := range b.files {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (b *fakeBlobs) records(t *testing.T, name string) []Record {
	t.Helper()
	b.mu.Lock()
	data, ok := b.files[name]
	b.mu.Unlock()
	require.True(t, ok, "missing output %s", name)
	var out []Record
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
	onEmit func(progress.Event)
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	hook := r.onEmit
	r.mu.Unlock()
	if hook != nil {
		hook(evt)
	}
}

func (r *recordingEmitter) setHook(hook func(progress.Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEmit = hook
}

func (r *recordingEmitter) snapshot() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}

func (r *recordingEmitter) count(stage progress.Stage) int {
	n := 0
	for _, evt := range r.snapshot() {
		if evt.Stage == stage {
			n++
		}
	}
	return n
}

type uuidIDs struct{}

func (uuidIDs) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

type failingIDs struct{}

func (failingIDs) NewID() (string, error) {
	return "", errors.New("entropy exhausted")
}

func testConfig() Config {
	return Config{
		DefaultCountry:      DefaultCountryCode,
		DefaultCountryLabel: "France",
		Countries: []Country{
			{Value: "FR", Label: "France"},
			{Value: "DE", Label: "Germany"},
		},
	}
}

type harness struct {
	orch    *Orchestrator
	store   *memStore
	fetcher *fakeFetcher
	blobs   *fakeBlobs
	events  *recordingEmitter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, &memStore{}, newFakeFetcher(), newFakeBlobs())
}

func newHarnessWith(t *testing.T, store *memStore, fetcher *fakeFetcher, blobs *fakeBlobs) *harness {
	t.Helper()
	clock := system.NewFixed(testDay)
	events := &recordingEmitter{}
	sink := NewResultSink(blobs, "", clock, nil)
	orch, err := NewOrchestrator(context.Background(), testConfig(), store, fetcher, sink, events, uuidIDs{}, clock, nil)
	require.NoError(t, err)
	return &harness{orch: orch, store: store, fetcher: fetcher, blobs: blobs, events: events}
}
