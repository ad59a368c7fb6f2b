package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/aegis-sign/psbt-bridge/internal/page"
	"github.com/aegis-sign/psbt-bridge/pkg/apierrors"
)

func TestEncodeDecodeWireFormat(t *testing.T) {
	raw, err := Encode(FindPSBT{})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"findPSBT"}`, string(raw))

	raw, err = Encode(PastePSBT{PSBT: "signed"})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"pastePSBT","psbt":"signed"}`, string(raw))

	msg, err := Decode([]byte(`{"type":"pastePSBT","psbt":""}`))
	require.NoError(t, err)
	require.Equal(t, PastePSBT{}, msg)

	_, err = Decode([]byte(`{"type":"pastePSBT"}`))
	require.True(t, apierrors.IsCode(err, apierrors.CodeInvalidArgument))

	_, err = Decode([]byte(`{"type":"openWallet"}`))
	require.ErrorIs(t, err, ErrUnknownMessage)

	_, err = Decode([]byte(`not json`))
	require.True(t, apierrors.IsCode(err, apierrors.CodeInvalidArgument))

	_, err = Encode(nil)
	require.Error(t, err)
}

func TestResponseJSONOmitsAbsentFields(t *testing.T) {
	raw, err := EncodeResponse(Response{PSBT: "cHNidP8B...", RequestType: "channel_open"})
	require.NoError(t, err)
	require.JSONEq(t, `{"psbt":"cHNidP8B...","request_type":"channel_open"}`, string(raw))

	raw, err = EncodeResponse(Response{})
	require.NoError(t, err)
	require.Equal(t, `{}`, string(raw))

	resp, err := DecodeResponse(nil)
	require.NoError(t, err)
	require.True(t, resp.IsEmpty())
	resp, err = DecodeResponse([]byte(`{"amount":"0.5"}`))
	require.NoError(t, err)
	require.Equal(t, "0.5", resp.Amount)
}

func TestListenerHandleRaw(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	stub := &stubExtractor{req: page.SigningRequest{PSBT: "cHNidP8A", Amount: "1"}}
	l, err := NewListener(stub, ListenerConfig{Metrics: metrics})
	require.NoError(t, err)

	out, ok := l.HandleRaw(context.Background(), []byte(`{"type":"findPSBT"}`))
	require.True(t, ok)
	require.JSONEq(t, `{"psbt":"cHNidP8A","amount":"1"}`, string(out))

	out, ok = l.HandleRaw(context.Background(), []byte(`{"type":"pastePSBT","psbt":"signed"}`))
	require.True(t, ok)
	require.Equal(t, `{}`, string(out))
	require.Equal(t, []string{"signed"}, stub.Pasted())

	_, ok = l.HandleRaw(context.Background(), []byte(`{"type":"somethingElse"}`))
	require.False(t, ok)
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.listenerMsgs.WithLabelValues("unknown", "ignored")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.listenerMsgs.WithLabelValues(string(TypeFindPSBT), "handled")))
}

func TestListenerRecoversPanics(t *testing.T) {
	l, err := NewListener(&stubExtractor{panics: true}, ListenerConfig{Metrics: NewMetrics(prometheus.NewRegistry())})
	require.NoError(t, err)

	resp, ok := l.OnMessage(context.Background(), FindPSBT{})
	require.True(t, ok)
	require.True(t, resp.IsEmpty())
	require.Equal(t, uint64(1), l.snapshot().Recovered)
}

func TestListenerNilMessageIgnored(t *testing.T) {
	l := mustListener(t, &stubExtractor{})
	_, ok := l.OnMessage(context.Background(), nil)
	require.False(t, ok)
}

func TestListenerRateLimit(t *testing.T) {
	l, err := NewListener(&stubExtractor{}, ListenerConfig{RateLimit: 1, Metrics: NewMetrics(prometheus.NewRegistry())})
	require.NoError(t, err)

	_, ok := l.OnMessage(context.Background(), FindPSBT{})
	require.True(t, ok)
	_, ok = l.OnMessage(context.Background(), FindPSBT{})
	require.False(t, ok)
	require.Equal(t, uint64(1), l.snapshot().Dropped)

	l.UpdateRateLimit(0)
	_, ok = l.OnMessage(context.Background(), FindPSBT{})
	require.True(t, ok)
}

func TestListenerDebugHandler(t *testing.T) {
	l := mustListener(t, &stubExtractor{})
	_, _ = l.OnMessage(context.Background(), FindPSBT{})

	rr := httptest.NewRecorder()
	l.DebugHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/listener", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var snap listenerSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	require.Equal(t, uint64(1), snap.Handled)
}

func TestNewListenerRequiresExtractor(t *testing.T) {
	_, err := NewListener(nil, ListenerConfig{})
	require.Error(t, err)
}

func TestListenerWithHTMLDocument(t *testing.T) {
	doc, err := page.ParseHTMLString(`<input id="psbt-to-sign" value="cHNidP8B..."><span id="request-type">channel_open</span>`)
	require.NoError(t, err)
	l := mustListener(t, page.NewExtractor(doc, page.Config{}))

	tabs := NewTabRegistry()
	tab := tabs.Open("https://lightning.example", "")
	transport := NewLocalTransport()
	transport.Register(tab.ID, l)
	r := New(tabs, transport, Config{Metrics: NewMetrics(prometheus.NewRegistry())})

	resp, err := r.SendRequest(context.Background(), FindPSBT{})
	require.NoError(t, err)
	require.Equal(t, Response{PSBT: "cHNidP8B...", RequestType: "channel_open"}, resp)

	transport.Unregister(tab.ID)
	_, err = r.SendRequest(context.Background(), FindPSBT{})
	require.True(t, apierrors.IsCode(err, apierrors.CodeTransport))
}
