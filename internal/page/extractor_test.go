package page

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const fullPage = `<html><body>
<input id="psbt-to-sign" value="cHNidP8B...">
<span id="request-type">channel_open</span>
<span id="channel-amount">0.015</span>
<input id="psbt-to-paste" value="">
<button id="approve-button">Approve</button>
</body></html>`

func TestExtractRequestScenario(t *testing.T) {
	doc := mustParse(t, `<html><body>
<input id="psbt-to-sign" value="cHNidP8B...">
<span id="request-type">channel_open</span>
</body></html>`)
	ex := NewExtractor(doc, Config{Sleeper: &fakeSleeper{}})

	req := ex.ExtractRequest(context.Background())
	require.Equal(t, SigningRequest{PSBT: "cHNidP8B...", RequestType: "channel_open"}, req)
}

func TestExtractRequestAllCombinations(t *testing.T) {
	const (
		psbtHTML   = `<input id="psbt-to-sign" value="  cHNidP8B  ">`
		typeHTML   = `<div id="request-type">withdrawal </div>`
		amountHTML = `<span id="channel-amount"> 1.5</span>`
	)
	for mask := 0; mask < 8; mask++ {
		mask := mask
		t.Run(fmt.Sprintf("mask-%03b", mask), func(t *testing.T) {
			body := ""
			want := SigningRequest{}
			if mask&1 != 0 {
				body += psbtHTML
				want.PSBT = "  cHNidP8B  "
			}
			if mask&2 != 0 {
				body += typeHTML
				want.RequestType = "withdrawal "
			}
			if mask&4 != 0 {
				body += amountHTML
				want.Amount = " 1.5"
			}
			doc := mustParse(t, "<html><body>"+body+"</body></html>")
			got := NewExtractor(doc, Config{}).ExtractRequest(context.Background())
			require.Equal(t, want, got)
		})
	}
}

func TestExtractRequestKeepsInnerHTMLAsBrowserSerializes(t *testing.T) {
	doc := mustParse(t, `<html><body>
<span id="request-type">Bob's "channel_open"</span>
<span id="channel-amount">1&nbsp;000 &amp; <b class="unit" title='a "b"'>sats</b><br><!--x--></span>
</body></html>`)
	req := NewExtractor(doc, Config{}).ExtractRequest(context.Background())
	require.Equal(t, `Bob's "channel_open"`, req.RequestType)
	require.Equal(t, `1&nbsp;000 &amp; <b class="unit" title="a &quot;b&quot;">sats</b><br><!--x-->`, req.Amount)
}

func TestExtractRequestEmptyValuesOmitted(t *testing.T) {
	doc := mustParse(t, `<input id="psbt-to-sign" value=""><span id="request-type"></span><span id="channel-amount"></span>`)
	req := NewExtractor(doc, Config{}).ExtractRequest(context.Background())
	require.True(t, req.IsEmpty())
}

func TestExtractRequestTextareaAndCustomSelectors(t *testing.T) {
	doc := mustParse(t, `<textarea id="unsigned">cHNidP8A</textarea><b id="kind">swap</b>`)
	ex := NewExtractor(doc, Config{Selectors: Selectors{PSBTInput: "unsigned", RequestType: "kind"}})
	req := ex.ExtractRequest(context.Background())
	require.Equal(t, "cHNidP8A", req.PSBT)
	require.Equal(t, "swap", req.RequestType)
	require.Equal(t, "channel-amount", ex.Selectors().Amount)
}

func TestApplySignedResultScenario(t *testing.T) {
	doc := mustParse(t, fullPage)
	var observed []string
	doc.OnChange("psbt-to-paste", func(v string) { observed = append(observed, v) })
	sleeper := &fakeSleeper{}
	ex := NewExtractor(doc, Config{Sleeper: sleeper, SettleDelay: 500 * time.Millisecond})

	ex.ApplySignedResult(context.Background(), "signedHex")

	el, err := doc.ElementByID(context.Background(), "psbt-to-paste")
	require.NoError(t, err)
	value, err := el.Value(context.Background())
	require.NoError(t, err)
	require.Equal(t, "signedHex", value)
	require.Equal(t, []string{"signedHex"}, observed)
	require.Equal(t, 1, doc.ChangeCount("psbt-to-paste"))
	require.Equal(t, []time.Duration{500 * time.Millisecond}, sleeper.Calls())
	require.Equal(t, "approve-button", doc.Focused())
	require.Equal(t, 1, doc.ClickCount("approve-button"))
}

func TestApplySignedResultClickAfterSettle(t *testing.T) {
	doc := mustParse(t, fullPage)
	sleeper := &fakeSleeper{}
	sleeper.onSleep = func() {
		// 等待期间审批控件还未被激活。
		require.Equal(t, 0, doc.ClickCount("approve-button"))
		require.Equal(t, 1, doc.ChangeCount("psbt-to-paste"))
	}
	NewExtractor(doc, Config{Sleeper: sleeper}).ApplySignedResult(context.Background(), "signed")
	require.Equal(t, 1, doc.ClickCount("approve-button"))
}

func TestApplySignedResultMissingElementsNoMutation(t *testing.T) {
	doc := mustParse(t, `<html><body><p id="other">hello</p></body></html>`)
	before, err := doc.Render()
	require.NoError(t, err)

	sleeper := &fakeSleeper{}
	ex := NewExtractor(doc, Config{Sleeper: sleeper})
	require.True(t, ex.ExtractRequest(context.Background()).IsEmpty())
	ex.ApplySignedResult(context.Background(), "signedHex")

	after, err := doc.Render()
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Empty(t, doc.Focused())
}

func TestApplySignedResultOnlyApproveControl(t *testing.T) {
	doc := mustParse(t, `<button id="approve-button">ok</button>`)
	NewExtractor(doc, Config{Sleeper: &fakeSleeper{}}).ApplySignedResult(context.Background(), "x")
	require.Equal(t, 1, doc.ClickCount("approve-button"))
	require.Equal(t, 0, doc.ChangeCount("psbt-to-paste"))
}

func TestApplySignedResultAbandonedOnCancel(t *testing.T) {
	doc := mustParse(t, fullPage)
	ctx, cancel := context.WithCancel(context.Background())
	sleeper := &fakeSleeper{onSleep: cancel}
	NewExtractor(doc, Config{Sleeper: sleeper}).ApplySignedResult(ctx, "signed")
	require.Equal(t, 1, doc.ChangeCount("psbt-to-paste"))
	require.Equal(t, 0, doc.ClickCount("approve-button"))
}

func TestNilDocumentIsNoop(t *testing.T) {
	ex := NewExtractor(nil, Config{Sleeper: &fakeSleeper{}})
	require.True(t, ex.ExtractRequest(context.Background()).IsEmpty())
	ex.ApplySignedResult(context.Background(), "signed")
}

func TestBackendErrorsTreatedAsAbsence(t *testing.T) {
	ex := NewExtractor(failingDocument{}, Config{Sleeper: &fakeSleeper{}})
	require.True(t, ex.ExtractRequest(context.Background()).IsEmpty())
	ex.ApplySignedResult(context.Background(), "signed")
}

func TestRealSleeperHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewRealSleeper().Sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, NewRealSleeper().Sleep(context.Background(), time.Millisecond))
}

type fakeSleeper struct {
	mu      sync.Mutex
	calls   []time.Duration
	onSleep func()
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.calls = append(s.calls, d)
	hook := s.onSleep
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return ctx.Err()
}

func (s *fakeSleeper) Calls() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.calls...)
}

type failingDocument struct{}

func (failingDocument) ElementByID(context.Context, string) (Element, error) {
	return nil, errors.New("extension context invalidated")
}

func mustParse(t *testing.T, raw string) *HTMLDocument {
	t.Helper()
	doc, err := ParseHTMLString(raw)
	require.NoError(t, err)
	return doc
}
