// Package extract turns raw submission signals into a platform
// identifier with an attached confidence. Strategies run in a fixed
// order; the first match wins and its confidence is final. The chain is
// layered by trustworthiness: the platform's own create response, the
// canonical URL, the account's profile listing, and last a content-hash
// match that can only ever claim low confidence.
package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"plume/internal/config"
	"plume/internal/logging"
	"plume/internal/types"
)

// Prober fetches the account's profile listing page. The production
// implementation drives a pooled session; tests return fixture HTML.
type Prober interface {
	ProfileHTML(ctx context.Context) (string, error)
}

// Outcome is a successful extraction: the identifier, which strategy
// produced it, and the confidence that strategy earns.
type Outcome struct {
	Identifier string
	Strategy   types.ExtractionStrategy
	Confidence types.Confidence
}

// Extractor runs the strategy chain.
type Extractor struct {
	cfg      config.ExtractionConfig
	platform config.PlatformConfig
}

// New creates an extractor.
func New(cfg config.ExtractionConfig, platform config.PlatformConfig) *Extractor {
	return &Extractor{cfg: cfg, platform: platform}
}

// Extract resolves the identifier for a freshly submitted intent. The
// raw confirmation carries the live capture buffer and the final URL;
// probe is consulted only if the cheaper strategies miss. Returns
// ErrExtractionAmbiguous when nothing matched: the caller parks the
// intent as awaiting confirmation, never failed, because the post may
// well exist.
func (e *Extractor) Extract(ctx context.Context, raw *types.RawConfirmation, probe Prober, intent *types.PostIntent) (Outcome, error) {
	if out, ok := alreadyResolved(intent); ok {
		return out, nil
	}

	if out, ok := e.fromNetwork(ctx, raw); ok {
		logging.Extract("%s resolved to %s via network response", intent.DecisionID, out.Identifier)
		return out, nil
	}
	if out, ok := e.fromURL(raw.FinalURL); ok {
		logging.Extract("%s resolved to %s via canonical url", intent.DecisionID, out.Identifier)
		return out, nil
	}
	return e.fromListing(ctx, probe, intent)
}

// ExtractPostHoc resolves an identifier long after submission, when no
// capture buffer survives. It runs the URL strategy over the last
// recorded URL, then the listing strategies.
func (e *Extractor) ExtractPostHoc(ctx context.Context, probe Prober, intent *types.PostIntent) (Outcome, error) {
	if out, ok := alreadyResolved(intent); ok {
		return out, nil
	}
	if out, ok := e.fromURL(intent.LastURL); ok {
		logging.Extract("%s recovered to %s via recorded url", intent.DecisionID, out.Identifier)
		return out, nil
	}
	return e.fromListing(ctx, probe, intent)
}

// alreadyResolved short-circuits re-extraction of an intent that is
// already posted with sufficient confidence. Running the chain again
// could only downgrade it.
func alreadyResolved(intent *types.PostIntent) (Outcome, bool) {
	s := intent.Status
	if s.Code == types.StatusPosted && s.Confidence.Sufficient() && intent.Identifier != "" {
		return Outcome{
			Identifier: intent.Identifier,
			Strategy:   types.StrategyNone,
			Confidence: s.Confidence,
		}, true
	}
	return Outcome{}, false
}

// fromNetwork re-examines the capture buffer at each configured
// checkpoint. The confirming response routinely lands seconds after the
// submit click, so a miss at one checkpoint just means wait for the
// next.
func (e *Extractor) fromNetwork(ctx context.Context, raw *types.RawConfirmation) (Outcome, bool) {
	if raw == nil || raw.Responses == nil {
		return Outcome{}, false
	}
	re := e.platform.CreateResponseRegexp()
	base := raw.SubmittedAt
	if base.IsZero() {
		base = time.Now()
	}

	for _, cp := range e.cfg.NetworkCheckpoints() {
		if err := sleepUntil(ctx, base.Add(cp)); err != nil {
			return Outcome{}, false
		}
		for _, resp := range raw.Responses.Snapshot() {
			if resp.Status >= 400 {
				continue
			}
			if m := re.FindStringSubmatch(resp.Body); m != nil {
				return Outcome{
					Identifier: m[1],
					Strategy:   types.StrategyNetwork,
					Confidence: types.ConfidenceFor(types.StrategyNetwork),
				}, true
			}
		}
		logging.ExtractDebug("no network confirmation at checkpoint %s", cp)
	}
	return Outcome{}, false
}

func (e *Extractor) fromURL(url string) (Outcome, bool) {
	if url == "" {
		return Outcome{}, false
	}
	if m := e.platform.StatusURLRegexp().FindStringSubmatch(url); m != nil {
		return Outcome{
			Identifier: m[1],
			Strategy:   types.StrategyURL,
			Confidence: types.ConfidenceFor(types.StrategyURL),
		}, true
	}
	return Outcome{}, false
}

// fromListing scrapes the profile listing on a progressive delay
// schedule, matching by normalized text. If every scrape misses on
// exact text, the entries from the final scrape get one content-hash
// pass, which claims only low confidence.
func (e *Extractor) fromListing(ctx context.Context, probe Prober, intent *types.PostIntent) (Outcome, error) {
	if probe == nil {
		return Outcome{}, types.ErrExtractionAmbiguous
	}

	want := NormalizeContent(intent.Segments[0])
	statusRe := e.platform.StatusURLRegexp()
	var lastEntries []ListingEntry

	for attempt, delay := range e.cfg.ScrapeDelays() {
		if err := sleepFor(ctx, delay); err != nil {
			return Outcome{}, fmt.Errorf("listing scrape interrupted: %w", types.ErrExtractionAmbiguous)
		}
		pageHTML, err := probe.ProfileHTML(ctx)
		if err != nil {
			logging.Extract("profile scrape attempt %d failed for %s: %v", attempt+1, intent.DecisionID, err)
			continue
		}
		entries, err := parseListing(pageHTML, statusRe, e.cfg.RecentMatchLimit)
		if err != nil {
			logging.Extract("listing parse failed for %s: %v", intent.DecisionID, err)
			continue
		}
		lastEntries = entries

		for _, entry := range entries {
			if entry.Text == want || (want != "" && containsNormalized(entry.Text, want)) {
				logging.Extract("%s resolved to %s via profile listing (attempt %d)", intent.DecisionID, entry.Identifier, attempt+1)
				return Outcome{
					Identifier: entry.Identifier,
					Strategy:   types.StrategyProfile,
					Confidence: types.ConfidenceFor(types.StrategyProfile),
				}, nil
			}
		}
		logging.ExtractDebug("listing attempt %d: no text match among %d entries", attempt+1, len(entries))
	}

	wantHash := ContentHash(intent.Segments[0])
	for _, entry := range lastEntries {
		for _, block := range append(entry.Blocks, entry.Text) {
			if ContentHash(block) == wantHash {
				logging.Extract("%s matched %s by content hash only", intent.DecisionID, entry.Identifier)
				return Outcome{
					Identifier: entry.Identifier,
					Strategy:   types.StrategyContentHash,
					Confidence: types.ConfidenceFor(types.StrategyContentHash),
				}, nil
			}
		}
	}

	return Outcome{}, types.ErrExtractionAmbiguous
}

// containsNormalized reports whether the rendered entry contains the
// payload text. Listings decorate posts with handles and timestamps, so
// containment rather than equality is the useful comparison.
func containsNormalized(entry, want string) bool {
	return strings.Contains(entry, want)
}

func sleepFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sleepUntil(ctx context.Context, at time.Time) error {
	return sleepFor(ctx, time.Until(at))
}
