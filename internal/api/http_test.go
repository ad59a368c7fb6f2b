package bridgeapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegis-sign/psbt-bridge/pkg/apierrors"
)

func TestPasteEndpoint(t *testing.T) {
	host := &stubHost{}
	mux := http.NewServeMux()
	NewHTTPHandler(host).Register(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, jsonRequest(http.MethodPost, "/paste", strings.NewReader(`{"psbt":"cHNidP8BAAAA"}`)))
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, []string{"cHNidP8BAAAA"}, host.pasted)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, jsonRequest(http.MethodPost, "/paste", strings.NewReader(`{"psbt":"garbage"}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, string(apierrors.CodeInvalidArgument), body.Code)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/paste", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPasteTransportFailure(t *testing.T) {
	host := &stubHost{pasteErr: apierrors.New(apierrors.CodeTransport, "receiving end does not exist")}
	rr := httptest.NewRecorder()
	NewHTTPHandler(host).handlePaste(rr, jsonRequest(http.MethodPost, "/paste", strings.NewReader(`{"psbt":"70736274ff01"}`)))
	require.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestPasswordEndpoints(t *testing.T) {
	host := &stubHost{session: true}
	mux := http.NewServeMux()
	NewHTTPHandler(host).Register(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/session", nil))
	require.JSONEq(t, `{"exists":true}`, rr.Body.String())

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, jsonRequest(http.MethodPost, "/password", strings.NewReader(`{"password":"s3cret"}`)))
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/password", nil))
	require.JSONEq(t, `{"password":"s3cret"}`, rr.Body.String())

	for _, body := range []string{`{"password":""}`, `{}`, ``} {
		rr = httptest.NewRecorder()
		mux.ServeHTTP(rr, jsonRequest(http.MethodPost, "/password", strings.NewReader(body)))
		require.Equal(t, http.StatusBadRequest, rr.Code, body)
	}
	require.Equal(t, "s3cret", host.password)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/password", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestOptionsEndpoint(t *testing.T) {
	host := &stubHost{}
	mux := http.NewServeMux()
	NewHTTPHandler(host).Register(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, jsonRequest(http.MethodPost, "/options", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, 1, host.options)

	host.optionsErr = apierrors.New(apierrors.CodeUnavailable, "options page unavailable")
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, jsonRequest(http.MethodPost, "/options", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHostSurfaceRejectsBrowserCrossSiteRequests(t *testing.T) {
	host := &stubHost{}
	mux := http.NewServeMux()
	NewHTTPHandler(host).Register(mux)

	// 网页表单可以发出的 text/plain 请求。
	req := httptest.NewRequest(http.MethodPost, "/paste", strings.NewReader(`{"psbt":"cHNidP8BAAAA"}`))
	req.Header.Set("Content-Type", "text/plain")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	req = jsonRequest(http.MethodPost, "/password", strings.NewReader(`{"password":"evil"}`))
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, string(apierrors.CodePermissionDenied), body.Code)

	req = httptest.NewRequest(http.MethodGet, "/password", nil)
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)

	require.Empty(t, host.pasted)
	require.Empty(t, host.password)

	req = httptest.NewRequest(http.MethodGet, "/session", nil)
	req.Header.Set("Sec-Fetch-Site", "none")
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestHostSurfaceBearerToken(t *testing.T) {
	host := &stubHost{password: "s3cret"}
	mux := http.NewServeMux()
	NewHTTPHandler(host, WithBearerToken("t0ken")).Register(mux)

	for _, auth := range []string{"", "Bearer wrong", "t0ken", "Basic dDBrZW4="} {
		req := httptest.NewRequest(http.MethodGet, "/password", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		require.Equal(t, http.StatusForbidden, rr.Code, auth)
	}

	req := httptest.NewRequest(http.MethodGet, "/password", nil)
	req.Header.Set("Authorization", "Bearer t0ken")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"password":"s3cret"}`, rr.Body.String())
}

func jsonRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	return req
}

type stubHost struct {
	pasted     []string
	pasteErr   error
	session    bool
	password   string
	options    int
	optionsErr error
}

func (s *stubHost) PastePSBT(_ context.Context, psbt string) error {
	if s.pasteErr != nil {
		return s.pasteErr
	}
	s.pasted = append(s.pasted, psbt)
	return nil
}

func (s *stubHost) SessionExists() bool { return s.session }

func (s *stubHost) SavePassword(_ context.Context, pw string) error {
	s.password = pw
	return nil
}

func (s *stubHost) GetPassword(context.Context) string { return s.password }

func (s *stubHost) OpenOptionsPage(context.Context) error {
	s.options++
	return s.optionsErr
}
