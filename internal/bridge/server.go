// Package bridge exposes a running sync session to the local presentation
// layer over HTTP and a websocket live feed.
package bridge

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/agentworkforce/fieldsync/internal/docsync"
	"github.com/agentworkforce/fieldsync/internal/document"
	"github.com/agentworkforce/fieldsync/internal/metrics"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	defaultMaxBody      = 8 << 20
	liveWriteTimeout    = 5 * time.Second
)

type Config struct {
	// Token, when set, is required as a bearer token on every /v1 route.
	Token        string
	MaxBodyBytes int64
}

type Server struct {
	echo    *echo.Echo
	session *docsync.Session
	hub     *Hub
	metrics *metrics.Metrics
	cfg     Config
	log     *zap.SugaredLogger
	unsub   func()
}

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// New builds the bridge around session. hub may be nil, in which case a new
// hub is created; m may be nil to disable /metrics.
func New(session *docsync.Session, hub *Hub, m *metrics.Metrics, cfg Config, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if hub == nil {
		hub = NewHub(log)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBody
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &CustomValidator{validator: validator.New()}

	s := &Server{
		echo:    e,
		session: session,
		hub:     hub,
		metrics: m,
		cfg:     cfg,
		log:     log,
	}
	e.HTTPErrorHandler = s.errorHandler

	s.setupMiddleware()
	s.setupRoutes()
	s.unsub = session.Subscribe(hub.PublishSnapshot)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// Start listens on addr until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start(addr string) error {
	s.log.Infow("bridge listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.unsub != nil {
		s.unsub()
	}
	return s.echo.Shutdown(ctx)
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		TargetHeader: headerCorrelationID,
		Generator:    func() string { return "fieldsync_" + uuid.NewString() },
	}))
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, values middleware.RequestLoggerValues) error {
			fields := []interface{}{
				"method", values.Method,
				"uri", values.URI,
				"status", values.Status,
				"latency_ms", float64(values.Latency.Nanoseconds()) / 1000000,
				"correlation_id", correlationID(c),
			}
			if values.Error != nil {
				fields = append(fields, "error", values.Error.Error())
				s.log.Warnw("bridge request failed", fields...)
			} else {
				s.log.Debugw("bridge request", fields...)
			}
			return nil
		},
	}))
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	v1 := s.echo.Group("/v1", s.requireToken)
	v1.GET("/document", s.handleLoadDocument)
	v1.PUT("/document", s.handleSaveDocument)
	v1.POST("/bins", s.handleCreateBin)
	v1.PUT("/bins/current", s.handleSetBin)
	v1.GET("/bins/extract", s.handleExtractBin)
	v1.GET("/bins/:id/check", s.handleCheckBin)
	v1.POST("/refresh", s.handleRefresh)
	v1.POST("/session", s.handleLogin)
	v1.DELETE("/session", s.handleLogout)
	v1.POST("/members/rename", s.handleRename)
	v1.GET("/online", s.handleOnline)
	v1.GET("/live", s.handleLive)
}

func (s *Server) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.cfg.Token == "" {
			return next(c)
		}
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if !strings.HasPrefix(header, "Bearer ") || token == "" {
			// Browsers cannot set headers on websocket upgrades.
			token = c.QueryParam("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) != 1 {
			return apiError(http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
		}
		return next(c)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	snap := s.session.Snapshot()
	return c.JSON(http.StatusOK, map[string]any{
		"status":   "ok",
		"binId":    snap.BinID,
		"source":   snap.Source,
		"running":  s.session.Running(),
		"clients":  s.hub.Clients(),
		"loggedIn": snap.Identity != nil,
	})
}

func (s *Server) handleLoadDocument(c echo.Context) error {
	ctx := c.Request().Context()
	id := strings.TrimSpace(c.QueryParam("id"))
	if id != "" {
		id = docsync.ExtractBinID(id)
	}
	s.session.LoadData(ctx, id)
	return c.JSON(http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleSaveDocument(c echo.Context) error {
	body, err := s.readBody(c)
	if err != nil {
		return err
	}
	if err := document.Validate(body); err != nil {
		return apiError(http.StatusBadRequest, "invalid_document", err.Error())
	}
	doc, _, err := document.Decode(body)
	if err != nil {
		return apiError(http.StatusBadRequest, "invalid_document", err.Error())
	}
	id := docsync.ExtractBinID(c.QueryParam("id"))
	saved := s.session.SaveAppData(c.Request().Context(), doc, id)
	return c.JSON(http.StatusOK, map[string]any{"saved": saved})
}

type createBinRequest struct {
	Amirs []document.Member `json:"amirs"`
	Ustas []document.Member `json:"ustas"`
	// Use switches the session to the new document.
	Use bool `json:"use"`
}

func (s *Server) handleCreateBin(c echo.Context) error {
	var req createBinRequest
	if err := c.Bind(&req); err != nil {
		return apiError(http.StatusBadRequest, "bad_request", "invalid JSON body")
	}
	ctx := c.Request().Context()
	id := s.session.CreateNewBin(ctx, req.Amirs, req.Ustas)
	if id == "" {
		return apiError(http.StatusBadGateway, "create_failed", "remote store did not create a document")
	}
	if req.Use {
		s.session.SetBinID(ctx, id)
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

type setBinRequest struct {
	Input string `json:"input"`
}

func (s *Server) handleSetBin(c echo.Context) error {
	var req setBinRequest
	if err := c.Bind(&req); err != nil {
		return apiError(http.StatusBadRequest, "bad_request", "invalid JSON body")
	}
	id := s.session.SetBinID(c.Request().Context(), req.Input)
	return c.JSON(http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleExtractBin(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"id": docsync.ExtractBinID(c.QueryParam("input"))})
}

func (s *Server) handleCheckBin(c echo.Context) error {
	ok := s.session.CheckConnection(c.Request().Context(), c.Param("id"))
	return c.JSON(http.StatusOK, map[string]bool{"ok": ok})
}

func (s *Server) handleRefresh(c echo.Context) error {
	alerts, err := s.session.Refresh(c.Request().Context())
	if errors.Is(err, docsync.ErrRateLimited) {
		return apiError(http.StatusTooManyRequests, "rate_limited", "refresh rate limit exceeded")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"alerts":   alerts,
		"snapshot": s.session.Snapshot(),
	})
}

type loginRequest struct {
	Name     string `json:"name" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=AMIR USTA amir usta"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := s.bindAndValidate(c, &req); err != nil {
		return err
	}
	role, err := document.ParseRole(req.Role)
	if err != nil {
		return apiError(http.StatusBadRequest, "invalid_role", "role must be AMIR or USTA")
	}
	err = s.session.Login(c.Request().Context(), req.Name, role, req.Password, req.Remember)
	switch {
	case errors.Is(err, docsync.ErrUnknownMember):
		return apiError(http.StatusNotFound, "unknown_member", err.Error())
	case errors.Is(err, docsync.ErrBadPassword):
		return apiError(http.StatusUnauthorized, "bad_password", err.Error())
	case err != nil:
		return err
	}
	return c.JSON(http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleLogout(c echo.Context) error {
	s.session.Logout(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}

type renameRequest struct {
	Role    string `json:"role" validate:"required,oneof=AMIR USTA amir usta"`
	OldName string `json:"oldName" validate:"required"`
	NewName string `json:"newName"`
}

func (s *Server) handleRename(c echo.Context) error {
	var req renameRequest
	if err := s.bindAndValidate(c, &req); err != nil {
		return err
	}
	role, err := document.ParseRole(req.Role)
	if err != nil {
		return apiError(http.StatusBadRequest, "invalid_role", "role must be AMIR or USTA")
	}
	attempted, saved := s.session.Rename(c.Request().Context(), role, req.OldName, req.NewName)
	return c.JSON(http.StatusOK, map[string]bool{"attempted": attempted, "saved": saved})
}

func (s *Server) handleOnline(c echo.Context) error {
	roles := []document.Role{document.RoleAmir, document.RoleUsta}
	if raw := c.QueryParam("role"); raw != "" {
		role, err := document.ParseRole(raw)
		if err != nil {
			return apiError(http.StatusBadRequest, "invalid_role", "role must be AMIR or USTA")
		}
		roles = []document.Role{role}
	}
	out := map[document.Role][]string{}
	for _, role := range roles {
		names := []string{}
		for _, m := range s.session.OnlineMembers(role) {
			names = append(names, m.Name)
		}
		out[role] = names
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleLive(c echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Debugw("live upgrade failed", "error", err)
		return nil
	}
	defer conn.Close(websocket.StatusInternalError, "")

	ctx := conn.CloseRead(c.Request().Context())
	messages, unregister := s.hub.register()
	defer unregister()

	snap := s.session.Snapshot()
	if err := writeEvent(ctx, conn, Event{Type: EventSnapshot, Snapshot: &snap}); err != nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return nil
		case payload, ok := <-messages:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "client too slow")
				return nil
			}
			writeCtx, cancel := context.WithTimeout(ctx, liveWriteTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return nil
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, liveWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, payload)
}

func (s *Server) readBody(c echo.Context) ([]byte, error) {
	r := c.Request()
	r.Body = http.MaxBytesReader(c.Response(), r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, apiError(http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit")
		}
		return nil, apiError(http.StatusBadRequest, "bad_request", "failed to read request body")
	}
	return body, nil
}

func (s *Server) bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return apiError(http.StatusBadRequest, "bad_request", "invalid JSON body")
	}
	if err := c.Validate(req); err != nil {
		return apiError(http.StatusBadRequest, "validation_failed", err.Error())
	}
	return nil
}

type errorBody struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
}

func apiError(status int, code, message string) *echo.HTTPError {
	return echo.NewHTTPError(status, errorBody{Code: code, Message: message})
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	body := errorBody{Code: "internal_error", Message: "internal error"}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		status = httpErr.Code
		switch msg := httpErr.Message.(type) {
		case errorBody:
			body = msg
		case string:
			body = errorBody{Code: codeForStatus(status), Message: msg}
		default:
			body = errorBody{Code: codeForStatus(status), Message: http.StatusText(status)}
		}
	} else {
		s.log.Errorw("bridge handler error", "error", err, "correlation_id", correlationID(c))
	}
	body.CorrelationID = correlationID(c)

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, body)
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusTooManyRequests:
		return "rate_limited"
	default:
		if status >= 500 {
			return "internal_error"
		}
		return "bad_request"
	}
}

func correlationID(c echo.Context) string {
	if id := c.Response().Header().Get(headerCorrelationID); id != "" {
		return id
	}
	return c.Request().Header.Get(headerCorrelationID)
}
