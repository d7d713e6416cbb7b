package deid

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entity struct {
	literal  string
	category Category
}

// literalRecognizer reports every occurrence of each literal.
func literalRecognizer(entities ...entity) Recognizer {
	return RecognizerFunc(func(_ context.Context, text string) ([]Span, error) {
		var spans []Span
		for _, e := range entities {
			off := 0
			for {
				i := strings.Index(text[off:], e.literal)
				if i < 0 {
					break
				}
				start := off + i
				spans = append(spans, Span{Start: start, End: start + len(e.literal), Category: e.category})
				off = start + len(e.literal)
			}
		}
		return spans, nil
	})
}

func newTestPipeline(t *testing.T, r Recognizer, opts ...Option) *Pipeline {
	t.Helper()
	p, err := NewPipeline(r, opts...)
	require.NoError(t, err)
	return p
}

func mustParse(t *testing.T, s string) *Document {
	t.Helper()
	d, err := ParseDocument([]byte(s))
	require.NoError(t, err)
	return d
}

func TestPipeline_CallDoctor(t *testing.T) {
	p := newTestPipeline(t, literalRecognizer())
	res, err := p.DeidentifyText(context.Background(), "Call Dr. Smith at 555-123-4567")
	require.NoError(t, err)

	assert.Contains(t, res.Text, "{{PHONE}}")
	assert.NotContains(t, res.Text, "555-123-4567")
	assert.True(t, strings.HasPrefix(res.Text, "Call "))
	assert.Equal(t, []string{"555-123-4567"}, res.Inventory.Values(BucketPhones))
	assert.Empty(t, res.Inventory.Values(BucketNames), "NAME_PREFIX is never recorded")
}

func TestPipeline_EmptyTextSkipsRecognizer(t *testing.T) {
	var calls atomic.Int32
	p := newTestPipeline(t, RecognizerFunc(func(context.Context, string) ([]Span, error) {
		calls.Add(1)
		return nil, nil
	}))
	res, err := p.DeidentifyText(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "", res.Text)
	assert.True(t, res.Inventory.Empty())
	assert.Equal(t, int32(0), calls.Load())
}

func TestPipeline_Idempotent(t *testing.T) {
	p := newTestPipeline(t, literalRecognizer(
		entity{"Jane Roe", CategoryPerson},
		entity{"Boston", CategoryLocation},
	))
	first, err := p.DeidentifyText(context.Background(),
		"Jane Roe of Boston, DOB: 01/02/1980, MRN: 4471, 45 years, jane@roe.org")
	require.NoError(t, err)

	second, err := p.DeidentifyText(context.Background(), first.Text)
	require.NoError(t, err)
	assert.Equal(t, first.Text, second.Text)
	assert.True(t, second.Inventory.Empty())
}

func TestPipeline_PersonNameCleaning(t *testing.T) {
	text := "Patient: John Carter Age 45\nnext"
	p := newTestPipeline(t, literalRecognizer(entity{"John Carter Age", CategoryPerson}))
	res, err := p.DeidentifyText(context.Background(), text)
	require.NoError(t, err)

	assert.Equal(t, []string{"John Carter"}, res.Inventory.Values(BucketNames))
	assert.NotContains(t, res.Text, "Carter")
	assert.Contains(t, res.Text, "{{PERSON}}")
}

func TestCleanPersonName(t *testing.T) {
	tests := map[string]string{
		"Jane Doe":                 "Jane Doe",
		"Jane Doe\nSample Type":    "Jane Doe",
		"Jane Doe Sample Received": "Jane Doe",
		"Jane Doe Age 40":          "Jane Doe",
		"\nJane":                   "",
	}
	for in, want := range tests {
		assert.Equal(t, want, cleanPersonName(in), "input %q", in)
	}
}

func TestPipeline_RecognizerFailureFailsClosed(t *testing.T) {
	boom := errors.New("sidecar down")
	p := newTestPipeline(t, RecognizerFunc(func(context.Context, string) ([]Span, error) {
		return nil, boom
	}))
	_, err := p.DeidentifyText(context.Background(), "SSN 123-45-6789")
	assert.ErrorIs(t, err, ErrRecognizer)
	assert.ErrorIs(t, err, boom)
}

func TestPipeline_RejectsMisbehavingRecognizer(t *testing.T) {
	tests := []struct {
		name  string
		spans []Span
	}{
		{"out of range", []Span{{Start: 0, End: 99, Category: CategoryPerson}}},
		{"overlapping", []Span{
			{Start: 0, End: 4, Category: CategoryPerson},
			{Start: 2, End: 6, Category: CategoryLocation},
		}},
		{"pattern category", []Span{{Start: 0, End: 4, Category: CategorySSN}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t, RecognizerFunc(func(context.Context, string) ([]Span, error) {
				return tt.spans, nil
			}))
			_, err := p.DeidentifyText(context.Background(), "Jane Roe visited")
			assert.ErrorIs(t, err, ErrInvalidSpan)
		})
	}
}

func TestNewPipeline_RequiresRecognizer(t *testing.T) {
	_, err := NewPipeline(nil)
	assert.Error(t, err)
}

func TestWalker_PageSSN(t *testing.T) {
	doc := mustParse(t, `{"pages":[{"text":"SSN: 123-45-6789"}],"tables":[]}`)
	res, err := NewWalker(newTestPipeline(t, literalRecognizer())).Walk(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, []string{"123-45-6789"}, res.Inventory.Values(BucketSSNs))
	out, err := json.Marshal(res.Document)
	require.NoError(t, err)
	assert.JSONEq(t, `{"pages":[{"text":"SSN: {{SSN}}"}],"tables":[]}`, string(out))
}

func TestWalker_NonStringCellsPassThrough(t *testing.T) {
	in := `{
		"tables":[{"data":[["SSN 123-45-6789", 42, 1.50, null, true, {"k":"555-123-4567"}], "not a row"]}],
		"pages":[{"page_number":1,"tables":[{"data":[[12345678901234567890]]}]}]
	}`
	res, err := NewWalker(newTestPipeline(t, literalRecognizer())).Walk(context.Background(), mustParse(t, in))
	require.NoError(t, err)

	out, err := json.Marshal(res.Document)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"tables":[{"data":[["SSN {{SSN}}", 42, 1.50, null, true, {"k":"555-123-4567"}], "not a row"]}],
		"pages":[{"page_number":1,"tables":[{"data":[[12345678901234567890]]}]}]
	}`, string(out))
	assert.Contains(t, string(out), "12345678901234567890")
	assert.Empty(t, res.Inventory.Values(BucketPhones))
	assert.Equal(t, 1, res.Units)
}

func TestWalker_MalformedOptionalFields(t *testing.T) {
	in := `{"text": 7, "pages": "oops", "tables": {"data": []}, "metadata": {"source": "scan.pdf"}}`
	res, err := NewWalker(newTestPipeline(t, literalRecognizer())).Walk(context.Background(), mustParse(t, in))
	require.NoError(t, err)

	out, err := json.Marshal(res.Document)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
	assert.True(t, res.Inventory.Empty())
	assert.Equal(t, 0, res.Units)
}

const fullDoc = `{
	"text": "Jane Roe, phone 555-123-4567",
	"metadata": {"pages": 2},
	"pages": [
		{"text": "Jane Roe lives in Boston. SSN 123-45-6789", "tables": [
			{"data": [["Name", "Phone"], ["Jane Roe", "555-123-4567"]]}
		]},
		{"text": "Seen 03/15/2024 by Mr. Alan Poe"}
	],
	"tables": [{"data": [["MRN: A-77", "jane@roe.org"]]}]
}`

func TestWalker_FullDocument(t *testing.T) {
	p := newTestPipeline(t, literalRecognizer(
		entity{"Jane Roe", CategoryPerson},
		entity{"Boston", CategoryLocation},
	))
	doc := mustParse(t, fullDoc)
	before, _ := json.Marshal(doc)

	res, err := NewWalker(p).Walk(context.Background(), doc)
	require.NoError(t, err)

	after, _ := json.Marshal(doc)
	assert.JSONEq(t, string(before), string(after), "input document must not change")

	inv := res.Inventory
	assert.Equal(t, []string{"Jane Roe"}, inv.Values(BucketNames))
	assert.Equal(t, []string{"555-123-4567"}, inv.Values(BucketPhones))
	assert.Equal(t, []string{"123-45-6789"}, inv.Values(BucketSSNs))
	assert.Equal(t, []string{"Boston"}, inv.Values(BucketAddresses))
	assert.Equal(t, []string{"03/15/2024"}, inv.Values(BucketDates))
	assert.Equal(t, []string{"MRN: A-77"}, inv.Values(BucketMRNs))
	assert.Equal(t, []string{"jane@roe.org"}, inv.Values(BucketEmails))
	assert.Equal(t, 9, res.Units)

	out, err := json.Marshal(res.Document)
	require.NoError(t, err)
	for _, leak := range []string{"Jane Roe", "555-123-4567", "123-45-6789", "Boston", "03/15/2024", "A-77", "jane@roe.org", "Alan Poe"} {
		assert.NotContains(t, string(out), leak)
	}
	assert.Contains(t, string(out), `"metadata":{"pages":2}`)
	assert.Contains(t, string(out), `"Name"`)
}

func TestWalker_ConcurrentMatchesSequential(t *testing.T) {
	p := newTestPipeline(t, literalRecognizer(
		entity{"Jane Roe", CategoryPerson},
		entity{"Boston", CategoryLocation},
	))
	seq, err := NewWalker(p).Walk(context.Background(), mustParse(t, fullDoc))
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		par, err := NewWalker(p, WithConcurrency(4)).Walk(context.Background(), mustParse(t, fullDoc))
		require.NoError(t, err)

		a, _ := json.Marshal(seq.Document)
		b, _ := json.Marshal(par.Document)
		assert.JSONEq(t, string(a), string(b))
		assert.Equal(t, seq.Inventory.Map(), par.Inventory.Map())
		assert.Equal(t, seq.Detections, par.Detections)
	}
}

func TestWalker_ErrorNamesLocation(t *testing.T) {
	p := newTestPipeline(t, RecognizerFunc(func(_ context.Context, text string) ([]Span, error) {
		if strings.Contains(text, "fail") {
			return nil, errors.New("model crashed")
		}
		return nil, nil
	}))
	doc := mustParse(t, `{"text":"ok","pages":[{"text":"ok"},{"tables":[{"data":[["ok","fail here"]]}]}]}`)

	for _, n := range []int{1, 3} {
		_, err := NewWalker(p, WithConcurrency(n)).Walk(context.Background(), doc)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRecognizer)
		assert.Contains(t, err.Error(), "pages[1].tables[0].data[0][1]")
	}
}

func TestWalker_InventoryCompleteness(t *testing.T) {
	doc := mustParse(t, `{"text":"123-45-6789 and 123-45-6789","pages":[{"text":"again 123-45-6789"}]}`)
	res, err := NewWalker(newTestPipeline(t, literalRecognizer())).Walk(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"123-45-6789"}, res.Inventory.Values(BucketSSNs))
	assert.Equal(t, 3, res.Detections[CategorySSN])
}

func TestParseDocument_RejectsNonObject(t *testing.T) {
	_, err := ParseDocument([]byte(`["text"]`))
	assert.ErrorIs(t, err, ErrNotObject)

	_, err = ParseDocument([]byte(`{bad json`))
	assert.Error(t, err)
}

func TestWalker_CustomMatcher(t *testing.T) {
	m, err := NewMatcher([]Rule{{CategoryMRN, regexp.MustCompile(`PT-\d+`)}})
	require.NoError(t, err)

	rules := m.Rules()
	rules[0].Category = CategoryPhone
	assert.Equal(t, CategoryMRN, m.Rules()[0].Category, "Rules returns a copy")

	p := newTestPipeline(t, literalRecognizer(), WithMatcher(m))
	res, err := NewWalker(p).Walk(context.Background(), NewTextDocument("chart PT-42, call 555-123-4567"))
	require.NoError(t, err)

	assert.Equal(t, "chart {{MRN}}, call 555-123-4567", res.Document.Text())
	assert.Equal(t, []string{"PT-42"}, res.Inventory.Values(BucketMRNs))
	assert.Empty(t, res.Inventory.Values(BucketPhones))
}
