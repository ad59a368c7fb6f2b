package bridgeapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/aegis-sign/psbt-bridge/pkg/apierrors"
	"github.com/aegis-sign/psbt-bridge/pkg/validator"
)

// Host 是签名界面可调用的弹窗能力，由 orchestrator.Orchestrator 实现。
type Host interface {
	PastePSBT(ctx context.Context, psbt string) error
	SessionExists() bool
	SavePassword(ctx context.Context, password string) error
	GetPassword(ctx context.Context) string
	OpenOptionsPage(ctx context.Context) error
}

// HTTPHandler 把 Host 暴露为 HTTP/JSON 接口，供运行在弹窗进程外的签名界面使用。
//
// 所有路由拒绝带 Origin 或跨站 Sec-Fetch-Site 的浏览器请求，POST 必须是 application/json，
// 配置了 token 时还要求 Authorization: Bearer <token>。
type HTTPHandler struct {
	host  Host
	token string
}

// HTTPOption 自定义 HTTPHandler。
type HTTPOption func(*HTTPHandler)

// WithBearerToken 要求请求携带该 bearer token，空字符串表示不校验。
func WithBearerToken(token string) HTTPOption {
	return func(h *HTTPHandler) { h.token = token }
}

// NewHTTPHandler 构造 HTTP handler。
func NewHTTPHandler(host Host, opts ...HTTPOption) *HTTPHandler {
	if host == nil {
		panic("host is required")
	}
	h := &HTTPHandler{host: host}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Register 将 handler 注册到 mux。
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.Handle("/paste", h.guard(h.handlePaste))
	mux.Handle("/session", h.guard(h.handleSession))
	mux.Handle("/password", h.guard(h.handlePassword))
	mux.Handle("/options", h.guard(h.handleOptions))
}

// guard 只放行本机非浏览器客户端或同源页面的请求。
func (h *HTTPHandler) guard(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Origin") != "" {
			h.writeAPIError(w, apierrors.New(apierrors.CodePermissionDenied, "cross-origin requests are not allowed"))
			return
		}
		switch r.Header.Get("Sec-Fetch-Site") {
		case "", "none", "same-origin":
		default:
			h.writeAPIError(w, apierrors.New(apierrors.CodePermissionDenied, "cross-site requests are not allowed"))
			return
		}
		if h.token != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
				h.writeAPIError(w, apierrors.New(apierrors.CodePermissionDenied, "missing or invalid bearer token"))
				return
			}
		}
		if r.Method == http.MethodPost {
			mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mediaType != "application/json" {
				h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "Content-Type must be application/json"))
				return
			}
		}
		next(w, r)
	})
}

type pasteRequestBody struct {
	PSBT string `json:"psbt"`
}

type sessionResponseBody struct {
	Exists bool `json:"exists"`
}

type passwordBody struct {
	Password string `json:"password"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *HTTPHandler) handlePaste(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "POST required"))
		return
	}
	var body pasteRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "invalid JSON body"))
		return
	}
	if body.PSBT == "" {
		h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "psbt is required"))
		return
	}
	// 只回写看起来像 PSBT 的载荷，页面上的粘贴框不接收任意文本。
	if err := validator.ValidatePSBT(body.PSBT); err != nil {
		h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, err.Error()))
		return
	}
	if err := h.host.PastePSBT(r.Context(), body.PSBT); err != nil {
		h.writeUnknownError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "GET required"))
		return
	}
	h.writeJSON(w, http.StatusOK, sessionResponseBody{Exists: h.host.SessionExists()})
}

func (h *HTTPHandler) handlePassword(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.writeJSON(w, http.StatusOK, passwordBody{Password: h.host.GetPassword(r.Context())})
	case http.MethodPost:
		var body passwordBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "invalid JSON body"))
			return
		}
		if body.Password == "" {
			h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "password is required"))
			return
		}
		if err := h.host.SavePassword(r.Context(), body.Password); err != nil {
			h.writeUnknownError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "GET or POST required"))
	}
}

func (h *HTTPHandler) handleOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "POST required"))
		return
	}
	if err := h.host.OpenOptionsPage(r.Context()); err != nil {
		h.writeUnknownError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *HTTPHandler) writeUnknownError(w http.ResponseWriter, err error) {
	if apiErr, ok := apierrors.FromError(err); ok {
		h.writeAPIError(w, apiErr)
		return
	}
	h.writeAPIError(w, apierrors.New(apierrors.Code("INTERNAL_ERROR"), "internal error"))
}

func (h *HTTPHandler) writeAPIError(w http.ResponseWriter, apiErr *apierrors.Error) {
	if apiErr == nil {
		apiErr = apierrors.New(apierrors.Code("INTERNAL_ERROR"), "internal error")
	}
	h.writeJSON(w, apierrors.HTTPStatus(apiErr.Code), errorResponse{
		Code:    string(apiErr.Code),
		Message: apiErr.Error(),
	})
}
