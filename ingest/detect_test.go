package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/academick/academick"
)

type stubProvider struct {
	reply   string
	err     error
	calls   int
	lastReq academick.ChatRequest
}

func (p *stubProvider) Chat(_ context.Context, req academick.ChatRequest) (academick.ChatResponse, error) {
	p.calls++
	p.lastReq = req
	if p.err != nil {
		return academick.ChatResponse{}, p.err
	}
	return academick.ChatResponse{Content: p.reply}, nil
}

func (p *stubProvider) Name() string { return "stub" }

func sampleTOC() []TOCEntry {
	return []TOCEntry{
		{Title: "Preface", Page: 1, Level: 0},
		{Title: "Chapter 1 Foundations", Page: 5, Level: 0},
		{Title: "1.1 Sets", Page: 7, Level: 1},
		{Title: "1.2 Functions", Page: 12, Level: 1},
		{Title: "Chapter 2 Optimization", Page: 20, Level: 0},
		{Title: "2.1 Gradient Descent", Page: 22, Level: 1},
		{Title: "Index", Page: 40, Level: 0},
	}
}

func TestDetectEmptyTOC(t *testing.T) {
	p := &stubProvider{reply: `["x"]`}
	_, err := DefaultChapterDetector(p).Detect(context.Background(), nil, 10)
	if !errors.Is(err, academick.ErrNoTableOfContents) {
		t.Fatalf("err = %v, want ErrNoTableOfContents", err)
	}
	if err.Error() != "no table of contents found" {
		t.Errorf("message = %q", err.Error())
	}
	if p.calls != 0 {
		t.Errorf("provider called %d times for empty toc", p.calls)
	}
}

func TestDetectLLMSuccess(t *testing.T) {
	p := &stubProvider{reply: "```json\n{\"chapters\": [\"Chapter 1 Foundations\", \"chapter 2 optimization\"]}\n```"}
	det, err := DefaultChapterDetector(p).Detect(context.Background(), sampleTOC(), 45)
	if err != nil {
		t.Fatal(err)
	}
	if !p.lastReq.JSON {
		t.Error("chapter detection should request a JSON object reply")
	}
	if det.Strategy != StrategyLLM {
		t.Errorf("strategy = %q, want llm", det.Strategy)
	}
	if det.Degraded != nil {
		t.Errorf("degraded = %v, want nil", det.Degraded)
	}
	if len(det.Chapters) != 2 {
		t.Fatalf("chapters = %d, want 2", len(det.Chapters))
	}
	ch1 := det.Chapters[0]
	if ch1.StartPage != 5 || ch1.EndPage != 19 {
		t.Errorf("chapter 1 pages = %d-%d, want 5-19", ch1.StartPage, ch1.EndPage)
	}
	if len(ch1.Topics) != 2 || ch1.Topics[1].EndPage != 19 {
		t.Errorf("chapter 1 topics = %+v", ch1.Topics)
	}
	ch2 := det.Chapters[1]
	for _, topic := range ch2.Topics {
		if topic.Title == "Index" {
			t.Error("index topic kept")
		}
	}
	if ch2.EndPage != 45 {
		t.Errorf("last chapter end = %d, want 45", ch2.EndPage)
	}
}

func TestDetectFallsBackToPattern(t *testing.T) {
	tests := []struct {
		name string
		p    *stubProvider
	}{
		{"provider error", &stubProvider{err: errors.New("connection refused")}},
		{"unparseable reply", &stubProvider{reply: "I cannot help with that"}},
		{"no matching titles", &stubProvider{reply: `["Appendix Z"]`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det, err := DefaultChapterDetector(tt.p).Detect(context.Background(), sampleTOC(), 45)
			if err != nil {
				t.Fatal(err)
			}
			if det.Strategy != StrategyPattern {
				t.Errorf("strategy = %q, want pattern", det.Strategy)
			}
			if det.Degraded == nil {
				t.Fatal("degraded = nil, want fallback recorded")
			}
			if det.Degraded.Strategy != StrategyPattern {
				t.Errorf("degraded strategy = %q", det.Degraded.Strategy)
			}
			if len(det.Chapters) != 2 {
				t.Errorf("chapters = %d, want 2", len(det.Chapters))
			}
		})
	}
}

func TestDetectWithoutProvider(t *testing.T) {
	det, err := DefaultChapterDetector(nil).Detect(context.Background(), sampleTOC(), 45)
	if err != nil {
		t.Fatal(err)
	}
	if det.Strategy != StrategyPattern || det.Degraded != nil {
		t.Errorf("strategy = %q degraded = %v", det.Strategy, det.Degraded)
	}
}

func TestPatternStrategy(t *testing.T) {
	tests := []struct {
		name   string
		toc    []TOCEntry
		titles []string
	}{
		{
			name: "numbered entries",
			toc: []TOCEntry{
				{Title: "1 Introduction", Page: 1},
				{Title: "1.1 Motivation", Page: 2},
				{Title: "2 Methods", Page: 10},
				{Title: "2.1 Data", Page: 11},
			},
			titles: []string{"1 Introduction", "2 Methods"},
		},
		{
			name: "nesting levels under parts",
			toc: []TOCEntry{
				{Title: "Part I", Page: 1, Level: 0},
				{Title: "Basics", Page: 2, Level: 1},
				{Title: "Vectors", Page: 3, Level: 2},
				{Title: "Part II", Page: 20, Level: 0},
				{Title: "Advanced", Page: 21, Level: 1},
				{Title: "Tensors", Page: 22, Level: 2},
			},
			titles: []string{"Basics", "Advanced"},
		},
		{
			name: "flat list",
			toc: []TOCEntry{
				{Title: "Getting Started", Page: 1},
				{Title: "Deployment", Page: 9},
			},
			titles: []string{"Getting Started", "Deployment"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chapters, err := PatternStrategy{}.Detect(context.Background(), tt.toc)
			if err != nil {
				t.Fatal(err)
			}
			var got []string
			for _, ch := range chapters {
				got = append(got, ch.Title)
			}
			if len(got) != len(tt.titles) {
				t.Fatalf("chapters = %q, want %q", got, tt.titles)
			}
			for i := range got {
				if got[i] != tt.titles[i] {
					t.Errorf("chapter %d = %q, want %q", i, got[i], tt.titles[i])
				}
			}
		})
	}
}

func TestParseChapterTitles(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    int
		wantErr bool
	}{
		{"array", `["A", "B"]`, 2, false},
		{"object", `{"chapters": ["A"]}`, 1, false},
		{"fenced", "```\n[\"A\"]\n```", 1, false},
		{"empty array", `[]`, 0, true},
		{"prose", "no json here", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseChapterTitles(tt.reply)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Errorf("titles = %q, want %d", got, tt.want)
			}
		})
	}
}
