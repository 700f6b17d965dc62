package analysis

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jobpsych/server/internal/module/document"
)

// scoringAnalyzer scores a document by a marker embedded in its text.
type scoringAnalyzer struct {
	scores map[string]int
}

func (a *scoringAnalyzer) Analyze(_ context.Context, text string, _ AnalyzeOptions) (*Analysis, error) {
	for marker, score := range a.scores {
		if strings.Contains(text, marker) {
			return &Analysis{FitScore: score, Summary: marker}, nil
		}
	}
	return &Analysis{FitScore: 0}, nil
}

// docxWith builds a minimal DOCX archive whose body is the given text.
func docxWith(t *testing.T, text string) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	doc, err := w.Create("word/document.xml")
	require.NoError(t, err)
	_, err = doc.Write([]byte(
		`<w:document><w:body><w:p><w:r><w:t>` + text + `</w:t></w:r></w:p></w:body></w:document>`))
	require.NoError(t, err)

	rels, err := w.Create("word/_rels/document.xml.rels")
	require.NoError(t, err)
	_, err = rels.Write([]byte(`<Relationships></Relationships>`))
	require.NoError(t, err)

	require.NoError(t, w.Close())
	return buf.Bytes()
}

func newTestService(analyzer Analyzer) *Service {
	logger := zap.NewNop()
	return NewService(
		document.NewExtractor(nil),
		analyzer,
		NewDispatcher(nil, logger, nil),
		logger,
	)
}

func TestService_AnalyzeBatch(t *testing.T) {
	analyzer := &scoringAnalyzer{scores: map[string]int{"alice": 85, "bob": 55}}
	svc := newTestService(analyzer)

	tasks := []Task{
		{Index: 0, Filename: "alice.docx", Payload: docxWith(t, "resume of alice")},
		{Index: 1, Filename: "notes.txt", Payload: []byte("plain text")},
		{Index: 2, Filename: "bob.docx", Payload: docxWith(t, "resume of bob")},
	}

	outcome := svc.AnalyzeBatch(context.Background(), tasks, AnalyzeOptions{})

	require.Len(t, outcome.Results, 3)
	assert.Equal(t, 2, outcome.SuccessCount)
	assert.Equal(t, 1, outcome.FailureCount)

	assert.True(t, outcome.Results[0].Success)
	assert.Equal(t, 85, outcome.Results[0].Analysis.FitScore)

	assert.False(t, outcome.Results[1].Success)
	assert.Equal(t, TaskErrorExtraction, outcome.Results[1].ErrorKind)

	assert.True(t, outcome.Results[2].Success)
	assert.Equal(t, 55, outcome.Results[2].Analysis.FitScore)
}

func TestService_Compare(t *testing.T) {
	analyzer := &scoringAnalyzer{scores: map[string]int{"alice": 85, "bob": 55, "carol": 92}}
	svc := newTestService(analyzer)

	tasks := []Task{
		{Index: 0, Filename: "alice.docx", Payload: docxWith(t, "resume of alice")},
		{Index: 1, Filename: "bob.docx", Payload: docxWith(t, "resume of bob")},
		{Index: 2, Filename: "carol.docx", Payload: docxWith(t, "resume of carol")},
	}

	ranked := svc.Compare(context.Background(), tasks, AnalyzeOptions{})

	require.Len(t, ranked.Ranked, 3)
	assert.Equal(t, "carol.docx", ranked.Ranked[0].Filename)
	assert.Equal(t, 1, ranked.Ranked[0].Rank)
	assert.Equal(t, "alice.docx", ranked.Ranked[1].Filename)
	assert.Equal(t, "bob.docx", ranked.Ranked[2].Filename)
	assert.Equal(t, 92, ranked.HighestScore)
}

func TestService_SelectCandidates(t *testing.T) {
	analyzer := &scoringAnalyzer{scores: map[string]int{"alice": 75, "bob": 40}}
	svc := newTestService(analyzer)

	tasks := []Task{
		{Index: 0, Filename: "alice.docx", Payload: docxWith(t, "resume of alice")},
		{Index: 1, Filename: "bob.docx", Payload: docxWith(t, "resume of bob")},
		{Index: 2, Filename: "broken.txt", Payload: []byte("x")},
	}

	selections := svc.SelectCandidates(context.Background(), tasks, "Backend Engineer", []string{"go", "sql"})

	require.Len(t, selections, 3)

	assert.Equal(t, "alice.docx", selections[0].Candidate)
	assert.Equal(t, SelectionFit, selections[0].Status)

	assert.Equal(t, "bob.docx", selections[1].Candidate)
	assert.Equal(t, SelectionReject, selections[1].Status)

	// An unprocessable file is a rejection, not a batch error.
	assert.Equal(t, "broken.txt", selections[2].Candidate)
	assert.Equal(t, SelectionReject, selections[2].Status)
	assert.Contains(t, selections[2].Message, "Could not process file:")
}

func TestSelectVerdict(t *testing.T) {
	tests := []struct {
		name   string
		score  int
		status SelectionStatus
	}{
		{"well above the bar", 90, SelectionFit},
		{"exactly at the bar", FitThreshold, SelectionFit},
		{"just below the bar", FitThreshold - 1, SelectionReject},
		{"zero", 0, SelectionReject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := selectVerdict("r.pdf", &Analysis{FitScore: tt.score})
			assert.Equal(t, tt.status, v.Status)
		})
	}
}
