package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plume/internal/config"
	"plume/internal/types"
)

// fakeLog is a capture buffer that tests fill directly.
type fakeLog struct {
	mu        sync.Mutex
	responses []types.CapturedResponse
}

func (l *fakeLog) add(r types.CapturedResponse) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.responses = append(l.responses, r)
}

func (l *fakeLog) Snapshot() []types.CapturedResponse {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.CapturedResponse, len(l.responses))
	copy(out, l.responses)
	return out
}

// fakeProber serves fixture HTML, optionally failing the first attempts.
type fakeProber struct {
	html     string
	failures int
	calls    int
}

func (p *fakeProber) ProfileHTML(ctx context.Context) (string, error) {
	p.calls++
	if p.calls <= p.failures {
		return "", errors.New("listing not rendered yet")
	}
	return p.html, nil
}

func fastConfig() config.ExtractionConfig {
	return config.ExtractionConfig{
		NetworkCheckpointsMs: []int{5, 15, 30},
		ScrapeDelaysMs:       []int{5, 10, 15},
		RecentMatchLimit:     20,
	}
}

func testExtractor() *Extractor {
	return New(fastConfig(), config.DefaultPlatformConfig())
}

func intentWithText(id, text string) *types.PostIntent {
	return &types.PostIntent{
		DecisionID: id,
		Segments:   []string{text},
		Kind:       types.KindSingle,
		Status:     types.Posting(),
	}
}

func listingHTML(entries ...[2]string) string {
	page := "<html><body><main>"
	for _, e := range entries {
		page += fmt.Sprintf(
			`<article><div><a href="/someone/status/%s"><time>2m</time></a></div><div>%s</div></article>`,
			e[0], e[1])
	}
	return page + "</main></body></html>"
}

func TestNetworkResponseYieldsHighConfidence(t *testing.T) {
	ex := testExtractor()
	log := &fakeLog{}
	log.add(types.CapturedResponse{
		URL:    "https://platform.example/api/CreatePost",
		Status: 200,
		Body:   `{"data":{"create_post":{"rest_id":"1001"}}}`,
	})
	raw := &types.RawConfirmation{DecisionID: "d1", Submitted: true, Responses: log, SubmittedAt: time.Now()}

	out, err := ex.Extract(context.Background(), raw, nil, intentWithText("d1", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "1001", out.Identifier)
	assert.Equal(t, types.StrategyNetwork, out.Strategy)
	assert.Equal(t, types.ConfidenceHigh, out.Confidence)
}

func TestNetworkResponseArrivingLateIsCaughtAtLaterCheckpoint(t *testing.T) {
	ex := testExtractor()
	log := &fakeLog{}
	raw := &types.RawConfirmation{DecisionID: "d2", Submitted: true, Responses: log, SubmittedAt: time.Now()}

	// The confirming response lands after the first checkpoint.
	go func() {
		time.Sleep(10 * time.Millisecond)
		log.add(types.CapturedResponse{Status: 200, Body: `{"id_str":"1002"}`})
	}()

	out, err := ex.Extract(context.Background(), raw, nil, intentWithText("d2", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "1002", out.Identifier)
	assert.Equal(t, types.ConfidenceHigh, out.Confidence)
}

func TestNetworkIgnoresErrorResponses(t *testing.T) {
	ex := testExtractor()
	log := &fakeLog{}
	log.add(types.CapturedResponse{Status: 500, Body: `{"rest_id":"6666"}`})
	raw := &types.RawConfirmation{
		DecisionID:  "d3",
		Submitted:   true,
		FinalURL:    "https://platform.example/me/status/2002",
		Responses:   log,
		SubmittedAt: time.Now(),
	}

	out, err := ex.Extract(context.Background(), raw, nil, intentWithText("d3", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "2002", out.Identifier, "error body must not be trusted; falls through to url")
	assert.Equal(t, types.StrategyURL, out.Strategy)
}

func TestURLYieldsHighConfidence(t *testing.T) {
	ex := testExtractor()
	raw := &types.RawConfirmation{
		DecisionID:  "d4",
		Submitted:   true,
		FinalURL:    "https://platform.example/me/status/2002",
		SubmittedAt: time.Now(),
	}

	out, err := ex.Extract(context.Background(), raw, nil, intentWithText("d4", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "2002", out.Identifier)
	assert.Equal(t, types.StrategyURL, out.Strategy)
	assert.Equal(t, types.ConfidenceHigh, out.Confidence)
}

func TestProfileScrapeYieldsMediumConfidence(t *testing.T) {
	ex := testExtractor()
	prober := &fakeProber{
		// First two scrapes fail; the third finds the post.
		failures: 2,
		html:     listingHTML([2]string{"3003", "the words that were posted"}),
	}
	raw := &types.RawConfirmation{DecisionID: "d5", Submitted: true, SubmittedAt: time.Now()}

	out, err := ex.Extract(context.Background(), raw, prober, intentWithText("d5", "the words that were posted"))
	require.NoError(t, err)
	assert.Equal(t, "3003", out.Identifier)
	assert.Equal(t, types.StrategyProfile, out.Strategy)
	assert.Equal(t, types.ConfidenceMedium, out.Confidence)
	assert.Equal(t, 3, prober.calls)
}

func TestContentHashYieldsLowConfidence(t *testing.T) {
	ex := testExtractor()
	// Rendered text differs in case and punctuation from the payload, so
	// exact matching misses but canonical hashing agrees.
	prober := &fakeProber{html: listingHTML([2]string{"4004", "Hello, World!"})}
	raw := &types.RawConfirmation{DecisionID: "d6", Submitted: true, SubmittedAt: time.Now()}

	out, err := ex.Extract(context.Background(), raw, prober, intentWithText("d6", "hello world"))
	require.NoError(t, err)
	assert.Equal(t, "4004", out.Identifier)
	assert.Equal(t, types.StrategyContentHash, out.Strategy)
	assert.Equal(t, types.ConfidenceLow, out.Confidence)
}

func TestNoStrategyMatchesIsAmbiguous(t *testing.T) {
	ex := testExtractor()
	prober := &fakeProber{html: listingHTML([2]string{"5005", "something unrelated entirely"})}
	raw := &types.RawConfirmation{DecisionID: "d7", Submitted: true, SubmittedAt: time.Now()}

	_, err := ex.Extract(context.Background(), raw, prober, intentWithText("d7", "my missing post"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrExtractionAmbiguous))
}

func TestExtractIsIdempotentOnResolvedIntent(t *testing.T) {
	ex := testExtractor()
	intent := intentWithText("d8", "hello")
	intent.Status = types.Posted(types.ConfidenceHigh)
	intent.Identifier = "7007"

	out, err := ex.Extract(context.Background(), &types.RawConfirmation{DecisionID: "d8"}, nil, intent)
	require.NoError(t, err)
	assert.Equal(t, "7007", out.Identifier)
	assert.Equal(t, types.ConfidenceHigh, out.Confidence, "confidence must never change retroactively")
}

func TestExtractPostHocUsesRecordedURL(t *testing.T) {
	ex := testExtractor()
	intent := intentWithText("d9", "hello")
	intent.Status = types.AwaitingConfirmation()
	intent.LastURL = "https://platform.example/me/status/8008"

	out, err := ex.ExtractPostHoc(context.Background(), nil, intent)
	require.NoError(t, err)
	assert.Equal(t, "8008", out.Identifier)
	assert.Equal(t, types.StrategyURL, out.Strategy)
}

func TestExtractPostHocFallsBackToListing(t *testing.T) {
	ex := testExtractor()
	intent := intentWithText("d10", "recovered words")
	intent.Status = types.AwaitingConfirmation()
	prober := &fakeProber{html: listingHTML([2]string{"9009", "recovered words"})}

	out, err := ex.ExtractPostHoc(context.Background(), prober, intent)
	require.NoError(t, err)
	assert.Equal(t, "9009", out.Identifier)
	assert.Equal(t, types.ConfidenceMedium, out.Confidence)
}

func TestExtractCancelledContext(t *testing.T) {
	ex := testExtractor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	raw := &types.RawConfirmation{DecisionID: "d11", Submitted: true, Responses: &fakeLog{}, SubmittedAt: time.Now()}

	_, err := ex.Extract(ctx, raw, &fakeProber{html: "<html></html>"}, intentWithText("d11", "hello"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrExtractionAmbiguous))
}

func TestParseListing(t *testing.T) {
	page := listingHTML(
		[2]string{"1", "first post"},
		[2]string{"2", "second post"},
		[2]string{"3", "third post"},
	)
	platform := config.DefaultPlatformConfig()
	re := platform.StatusURLRegexp()

	entries, err := parseListing(page, re, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2, "limit must cap the entries")
	assert.Equal(t, "1", entries[0].Identifier)
	assert.Contains(t, entries[0].Text, "first post")
	assert.Equal(t, "2", entries[1].Identifier)
}

func TestParseListingSkipsArticlesWithoutPermalink(t *testing.T) {
	page := `<html><body>
		<article><div>promoted content with no permalink</div></article>
		<article><a href="/u/status/42">x</a><div>real post</div></article>
	</body></html>`
	platform := config.DefaultPlatformConfig()
	re := platform.StatusURLRegexp()

	entries, err := parseListing(page, re, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "42", entries[0].Identifier)
}

func TestNormalizeContent(t *testing.T) {
	assert.Equal(t, "a b c", NormalizeContent("  a \n\t b   c "))
	assert.Equal(t, "", NormalizeContent("   "))
}

func TestContentHashSurvivesPunctuation(t *testing.T) {
	assert.Equal(t, ContentHash("Hello, World!"), ContentHash("hello world"))
	assert.NotEqual(t, ContentHash("hello world"), ContentHash("goodbye world"))
}
