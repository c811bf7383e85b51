package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plume/internal/browser"
	"plume/internal/config"
	"plume/internal/types"
)

// fakeDriver records the step sequence and fails on demand.
type fakeDriver struct {
	calls []string

	openComposerErr error
	openTargetErr   error
	enterErr        map[int]error
	submitErr       error
	banner          string
	finalURL        string
}

func (d *fakeDriver) OpenComposer(ctx context.Context, s *browser.Session) error {
	d.calls = append(d.calls, "open_composer")
	return d.openComposerErr
}

func (d *fakeDriver) OpenTarget(ctx context.Context, s *browser.Session, targetID string) error {
	d.calls = append(d.calls, "open_target:"+targetID)
	return d.openTargetErr
}

func (d *fakeDriver) EnterSegment(ctx context.Context, s *browser.Session, index int, text string) error {
	d.calls = append(d.calls, "enter:"+text)
	if d.enterErr != nil {
		return d.enterErr[index]
	}
	return nil
}

func (d *fakeDriver) Submit(ctx context.Context, s *browser.Session) error {
	d.calls = append(d.calls, "submit")
	return d.submitErr
}

func (d *fakeDriver) CurrentURL(s *browser.Session) string { return d.finalURL }

func (d *fakeDriver) RejectionBanner(s *browser.Session) (string, bool) {
	return d.banner, d.banner != ""
}

func testExecutor(driver Driver) *Executor {
	cfg := config.DefaultExecutorConfig()
	cfg.SubmitSettleMs = 0
	return NewWithDriver(cfg, config.DefaultPlatformConfig(), driver)
}

func singleIntent(id, text string) *types.PostIntent {
	return &types.PostIntent{
		DecisionID: id,
		Segments:   []string{text},
		Kind:       types.KindSingle,
		Status:     types.Queued(),
	}
}

func TestExecuteSingle(t *testing.T) {
	driver := &fakeDriver{finalURL: "https://platform.example/me/status/1001"}
	ex := testExecutor(driver)

	raw, err := ex.Execute(context.Background(), browser.NewDetached(), singleIntent("d1", "hello"))
	require.NoError(t, err)
	assert.True(t, raw.Submitted)
	assert.Equal(t, "https://platform.example/me/status/1001", raw.FinalURL)
	assert.Equal(t, []string{"open_composer", "enter:hello", "submit"}, driver.calls)
	assert.NotNil(t, raw.Responses)
	assert.False(t, raw.SubmittedAt.IsZero())
}

func TestExecuteReplyOpensTarget(t *testing.T) {
	driver := &fakeDriver{}
	ex := testExecutor(driver)

	intent := &types.PostIntent{
		DecisionID: "d2",
		Segments:   []string{"agreed"},
		Kind:       types.KindReply,
		TargetID:   "9000",
		Status:     types.Queued(),
	}
	raw, err := ex.Execute(context.Background(), browser.NewDetached(), intent)
	require.NoError(t, err)
	assert.True(t, raw.Submitted)
	assert.Equal(t, []string{"open_target:9000", "enter:agreed", "submit"}, driver.calls)
}

func TestExecuteThreadSegmentsInOrder(t *testing.T) {
	driver := &fakeDriver{}
	ex := testExecutor(driver)

	intent := &types.PostIntent{
		DecisionID: "d3",
		Segments:   []string{"one", "two", "three"},
		Kind:       types.KindThread,
		Status:     types.Queued(),
	}
	raw, err := ex.Execute(context.Background(), browser.NewDetached(), intent)
	require.NoError(t, err)
	assert.True(t, raw.Submitted)
	assert.Equal(t, []string{"open_composer", "enter:one", "enter:two", "enter:three", "submit"}, driver.calls)
	assert.Equal(t, 1, countCalls(driver, "submit"), "a thread is one draft, one submit")
}

func TestExecuteRejectsOverlongSegment(t *testing.T) {
	driver := &fakeDriver{}
	ex := testExecutor(driver)

	raw, err := ex.Execute(context.Background(), browser.NewDetached(), singleIntent("d4", strings.Repeat("x", 281)))
	require.Error(t, err)
	assert.True(t, types.IsFatal(err))
	assert.False(t, raw.Submitted)
	assert.Empty(t, driver.calls, "no UI step should run for a rejected payload")
}

func TestExecuteNavigationFailureNeedsNewSession(t *testing.T) {
	driver := &fakeDriver{openComposerErr: errors.New("net::ERR_TIMED_OUT")}
	ex := testExecutor(driver)

	raw, err := ex.Execute(context.Background(), browser.NewDetached(), singleIntent("d5", "hi"))
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
	assert.True(t, types.NeedsNewSession(err))
	assert.False(t, raw.Submitted)
}

func TestExecuteElementFailureKeepsSession(t *testing.T) {
	driver := &fakeDriver{enterErr: map[int]error{0: errors.New("element not found")}}
	ex := testExecutor(driver)

	raw, err := ex.Execute(context.Background(), browser.NewDetached(), singleIntent("d6", "hi"))
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
	assert.False(t, types.NeedsNewSession(err))
	assert.False(t, raw.Submitted)
}

func TestExecuteSubmitClickFailure(t *testing.T) {
	driver := &fakeDriver{submitErr: errors.New("element detached")}
	ex := testExecutor(driver)

	raw, err := ex.Execute(context.Background(), browser.NewDetached(), singleIntent("d7", "hi"))
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
	assert.False(t, raw.Submitted, "a failed click means the draft never left the composer")
}

func TestExecuteRejectionBannerIsFatal(t *testing.T) {
	driver := &fakeDriver{banner: "You are not allowed to post this."}
	ex := testExecutor(driver)

	raw, err := ex.Execute(context.Background(), browser.NewDetached(), singleIntent("d8", "hi"))
	require.Error(t, err)
	assert.True(t, types.IsFatal(err))
	assert.True(t, raw.Submitted, "the banner appears after submission; the flag must survive")
}

func TestExecuteCancelledDuringSettle(t *testing.T) {
	driver := &fakeDriver{finalURL: "https://platform.example/home"}
	cfg := config.DefaultExecutorConfig()
	cfg.SubmitSettleMs = 5000
	ex := NewWithDriver(cfg, config.DefaultPlatformConfig(), driver)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	raw, err := ex.Execute(ctx, browser.NewDetached(), singleIntent("d9", "hi"))
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
	assert.True(t, raw.Submitted)
	assert.Equal(t, "https://platform.example/home", raw.FinalURL, "partial signal must not be discarded")
}

func TestExecuteHooksFire(t *testing.T) {
	driver := &fakeDriver{}
	ex := testExecutor(driver)

	var order []string
	ex.SetHooks(Hooks{
		BeforeAction: func(intent *types.PostIntent) {
			order = append(order, "before:"+intent.DecisionID)
		},
		ActionComplete: func(intent *types.PostIntent, raw *types.RawConfirmation, err error) {
			order = append(order, "complete:"+intent.DecisionID)
			assert.True(t, raw.Submitted)
			assert.NoError(t, err)
		},
	})

	_, err := ex.Execute(context.Background(), browser.NewDetached(), singleIntent("d10", "hi"))
	require.NoError(t, err)
	assert.Equal(t, []string{"before:d10", "complete:d10"}, order)
}

func countCalls(d *fakeDriver, name string) int {
	n := 0
	for _, c := range d.calls {
		if c == name {
			n++
		}
	}
	return n
}
