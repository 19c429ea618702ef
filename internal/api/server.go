package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pomopatch/internal/auth"
	"pomopatch/internal/config"
	"pomopatch/internal/garden"
	"pomopatch/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Garden is the set of garden operations the HTTP layer exposes.
type Garden interface {
	CreateAccount(ctx context.Context, in garden.CreateAccountInput) (garden.Account, error)
	GetAccount(ctx context.Context, ref garden.AccountRef) (garden.Account, error)
	RenameAccount(ctx context.Context, in garden.RenameAccountInput) (garden.Account, error)
	DeleteAccount(ctx context.Context, ref garden.AccountRef) error
	AdjustBalance(ctx context.Context, in garden.AdjustBalanceInput) (garden.BalanceResult, error)
	AdjustResource(ctx context.Context, in garden.AdjustResourceInput) (garden.ResourceResult, error)
	PurchaseResource(ctx context.Context, in garden.PurchaseResourceInput) (garden.ResourceResult, error)
	IncreasePlantCapacity(ctx context.Context, ref garden.AccountRef) (garden.CapacityResult, error)
	LedgerEntries(ctx context.Context, ref garden.AccountRef, limit int) ([]garden.LedgerEntry, error)
	CreatePlant(ctx context.Context, in garden.CreatePlantInput) (garden.CreatePlantResult, error)
	GetPlant(ctx context.Context, ref garden.PlantRef) (garden.Plant, error)
	ListPlants(ctx context.Context, ref garden.AccountRef) ([]garden.Plant, error)
	StartGrowing(ctx context.Context, ref garden.PlantRef) (garden.StartGrowingResult, error)
	Tick(ctx context.Context, in garden.TickInput) (garden.TickResult, error)
	MovePlant(ctx context.Context, in garden.MoveInput) (garden.Plant, error)
	SellPlant(ctx context.Context, ref garden.PlantRef) (garden.SellResult, error)
}

// Identity signs users in and resolves bearer tokens.
type Identity interface {
	SignUp(ctx context.Context, email, password string) (auth.Session, error)
	Login(ctx context.Context, email, password string) (auth.Session, error)
	Refresh(ctx context.Context, refreshToken string) (auth.Session, error)
	VerifyAccessToken(ctx context.Context, accessToken string) (auth.User, error)
}

type contextKey string

const userContextKey contextKey = "user"

// meAlias may replace {account_id} to address the caller's own account.
const meAlias = "me"

type UserContext struct {
	UserID    string
	AccountID string
	Token     string
}

type Server struct {
	cfg      config.APIConfig
	log      *zap.Logger
	auth     Identity
	garden   Garden
	validate *validator.Validate
	limiter  *rateLimiter
	mux      *chi.Mux
}

func New(cfg config.APIConfig, logger *zap.Logger, identity Identity, gardenSvc Garden) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 10
	}
	s := &Server{
		cfg:      cfg,
		log:      logger,
		auth:     identity,
		garden:   gardenSvc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		limiter:  newRateLimiter(rps, cfg.RateLimitBurst, logger),
		mux:      chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.InstrumentHandler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Handler)
			r.Post("/auth/signup", s.handleSignup)
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/refresh", s.handleRefresh)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Use(s.limiter.Handler)

			r.Post("/accounts", s.handleCreateAccount)
			r.Route("/accounts/{account_id}", func(r chi.Router) {
				r.Get("/", s.handleGetAccount)
				r.Patch("/", s.handleRenameAccount)
				r.Delete("/", s.handleDeleteAccount)
				r.Post("/balance", s.handleAdjustBalance)
				r.Post("/resources/{kind}", s.handleAdjustResource)
				r.Post("/shop/{kind}", s.handlePurchaseResource)
				r.Post("/capacity", s.handleIncreaseCapacity)
				r.Get("/ledger", s.handleLedger)

				r.Get("/plants", s.handleListPlants)
				r.Post("/plants", s.handleCreatePlant)
				r.Get("/plants/{plant_id}", s.handleGetPlant)
				r.Post("/plants/{plant_id}/grow", s.handleStartGrowing)
				r.Post("/plants/{plant_id}/tick", s.handleTick)
				r.Post("/plants/{plant_id}/move", s.handleMovePlant)
				r.Post("/plants/{plant_id}/sell", s.handleSellPlant)
			})
		})
	})
}

func (s *Server) corsOrigins() []string {
	if len(s.cfg.CORSOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.CORSOrigins
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// authMiddleware resolves the bearer token. Failed verifications spend the
// client address's bucket, and an address with none left is refused before
// the identity provider is called.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		failKey := authFailureKey(r)
		if s.limiter.exhausted(failKey) {
			s.limiter.reject(w, r, failKey)
			return
		}
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			s.limiter.allow(failKey)
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.auth.VerifyAccessToken(r.Context(), token)
		if err != nil {
			s.limiter.allow(failKey)
			if !errors.Is(err, auth.ErrInvalidToken) {
				s.log.Warn("token verification failed", zap.Error(err))
			}
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			UserID:    user.ID,
			AccountID: user.AccountID(),
			Token:     token,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	v := ctx.Value(userContextKey)
	user, ok := v.(UserContext)
	if !ok || user.AccountID == "" {
		return UserContext{}, errors.New("missing auth context")
	}
	return user, nil
}

// accountRef pairs the caller with the {account_id} path segment.
func accountRef(r *http.Request) (garden.AccountRef, error) {
	user, err := userFromContext(r.Context())
	if err != nil {
		return garden.AccountRef{}, err
	}
	target := chi.URLParam(r, "account_id")
	if strings.EqualFold(target, meAlias) {
		target = user.AccountID
	}
	return garden.AccountRef{ActorID: user.AccountID, AccountID: target}, nil
}

func plantRef(r *http.Request) (garden.PlantRef, error) {
	ref, err := accountRef(r)
	if err != nil {
		return garden.PlantRef{}, err
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "plant_id"), 10, 64)
	if err != nil || id <= 0 {
		return garden.PlantRef{}, errBadPlantID
	}
	return garden.PlantRef{AccountRef: ref, PlantID: id}, nil
}

var errBadPlantID = errors.New("plant id must be a positive integer")

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email       string `json:"email" validate:"required,email"`
		Password    string `json:"password" validate:"required,min=6"`
		DisplayName string `json:"display_name" validate:"omitempty,min=3,max=32"`
	}
	if !s.decodeValid(w, r, &in) {
		return
	}
	session, err := s.auth.SignUp(r.Context(), strings.TrimSpace(in.Email), in.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out := signupResponse{Session: session}
	accountID := session.User.AccountID()
	if in.DisplayName != "" && session.AccessToken != "" && accountID != "" {
		_, err := s.garden.CreateAccount(r.Context(), garden.CreateAccountInput{
			ActorID:     accountID,
			AccountID:   accountID,
			DisplayName: in.DisplayName,
		})
		switch {
		case err == nil, errors.Is(err, garden.ErrDuplicateAccount):
		case errors.Is(err, garden.ErrPolicyViolation):
			// The identity already exists; the caller keeps the session and
			// creates the garden account later with another name.
			out.Warning = "garden account not created: " + err.Error()
		default:
			s.writeDomainError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, out)
}

type signupResponse struct {
	auth.Session
	Warning string `json:"warning,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}
	if !s.decodeValid(w, r, &in) {
		return
	}
	session, err := s.auth.Login(r.Context(), strings.TrimSpace(in.Email), in.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}
	if !s.decodeValid(w, r, &in) {
		return
	}
	session, err := s.auth.Refresh(r.Context(), in.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		DisplayName string `json:"display_name" validate:"required,min=3,max=32"`
	}
	if !s.decodeValid(w, r, &in) {
		return
	}
	acct, err := s.garden.CreateAccount(r.Context(), garden.CreateAccountInput{
		ActorID:     user.AccountID,
		AccountID:   user.AccountID,
		DisplayName: in.DisplayName,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	ref, err := accountRef(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	acct, err := s.garden.GetAccount(r.Context(), ref)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleRenameAccount(w http.ResponseWriter, r *http.Request) {
	ref, err := accountRef(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		DisplayName string `json:"display_name" validate:"required,min=3,max=32"`
	}
	if !s.decodeValid(w, r, &in) {
		return
	}
	acct, err := s.garden.RenameAccount(r.Context(), garden.RenameAccountInput{
		ActorID:     ref.ActorID,
		AccountID:   ref.AccountID,
		DisplayName: in.DisplayName,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	ref, err := accountRef(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err := s.garden.DeleteAccount(r.Context(), ref); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAdjustBalance(w http.ResponseWriter, r *http.Request) {
	ref, err := accountRef(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		DeltaMicros int64 `json:"delta_micros"`
	}
	if !s.decodeValid(w, r, &in) {
		return
	}
	out, err := s.garden.AdjustBalance(r.Context(), garden.AdjustBalanceInput{
		ActorID:     ref.ActorID,
		AccountID:   ref.AccountID,
		DeltaMicros: in.DeltaMicros,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdjustResource(w http.ResponseWriter, r *http.Request) {
	ref, err := accountRef(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Delta int64 `json:"delta"`
	}
	if !s.decodeValid(w, r, &in) {
		return
	}
	out, err := s.garden.AdjustResource(r.Context(), garden.AdjustResourceInput{
		ActorID:   ref.ActorID,
		AccountID: ref.AccountID,
		Resource:  garden.Resource(chi.URLParam(r, "kind")),
		Delta:     in.Delta,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePurchaseResource(w http.ResponseWriter, r *http.Request) {
	ref, err := accountRef(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.garden.PurchaseResource(r.Context(), garden.PurchaseResourceInput{
		ActorID:   ref.ActorID,
		AccountID: ref.AccountID,
		Resource:  garden.Resource(chi.URLParam(r, "kind")),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleIncreaseCapacity(w http.ResponseWriter, r *http.Request) {
	ref, err := accountRef(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.garden.IncreasePlantCapacity(r.Context(), ref)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	ref, err := accountRef(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
	}
	entries, err := s.garden.LedgerEntries(r.Context(), ref, limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleListPlants(w http.ResponseWriter, r *http.Request) {
	ref, err := accountRef(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	plants, err := s.garden.ListPlants(r.Context(), ref)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plants": plants})
}

// positionRequest carries optional canvas coordinates; both or neither.
type positionRequest struct {
	X *int64 `json:"x" validate:"required_with=Y"`
	Y *int64 `json:"y" validate:"required_with=X"`
}

func (p positionRequest) position() *garden.Position {
	if p.X == nil || p.Y == nil {
		return nil
	}
	return &garden.Position{X: *p.X, Y: *p.Y}
}

func (s *Server) handleCreatePlant(w http.ResponseWriter, r *http.Request) {
	ref, err := accountRef(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Type string `json:"plant_type" validate:"required,oneof=flower tree herb vegetable"`
		positionRequest
	}
	if !s.decodeValid(w, r, &in) {
		return
	}
	out, err := s.garden.CreatePlant(r.Context(), garden.CreatePlantInput{
		ActorID:   ref.ActorID,
		AccountID: ref.AccountID,
		Type:      in.Type,
		Position:  in.position(),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleGetPlant(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.plantRefOrError(w, r)
	if !ok {
		return
	}
	plant, err := s.garden.GetPlant(r.Context(), ref)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plant)
}

func (s *Server) handleStartGrowing(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.plantRefOrError(w, r)
	if !ok {
		return
	}
	out, err := s.garden.StartGrowing(r.Context(), ref)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.plantRefOrError(w, r)
	if !ok {
		return
	}
	var in struct {
		Elapsed int64 `json:"elapsed" validate:"gt=0"`
	}
	if !s.decodeValid(w, r, &in) {
		return
	}
	out, err := s.garden.Tick(r.Context(), garden.TickInput{PlantRef: ref, Elapsed: in.Elapsed})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMovePlant(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.plantRefOrError(w, r)
	if !ok {
		return
	}
	var in positionRequest
	if !s.decodeValid(w, r, &in) {
		return
	}
	plant, err := s.garden.MovePlant(r.Context(), garden.MoveInput{PlantRef: ref, Position: in.position()})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plant)
}

func (s *Server) handleSellPlant(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.plantRefOrError(w, r)
	if !ok {
		return
	}
	out, err := s.garden.SellPlant(r.Context(), ref)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) plantRefOrError(w http.ResponseWriter, r *http.Request) (garden.PlantRef, bool) {
	ref, err := plantRef(r)
	switch {
	case errors.Is(err, errBadPlantID):
		writeError(w, http.StatusBadRequest, err.Error())
		return ref, false
	case err != nil:
		writeError(w, http.StatusUnauthorized, err.Error())
		return ref, false
	}
	return ref, true
}

// decodeValid decodes and validates the body, writing a 400 on failure.
func (s *Server) decodeValid(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := decodeJSON(r, out); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	if err := s.validate.Struct(out); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, garden.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, garden.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case garden.IsDuplicate(err):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, garden.ErrPolicyViolation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, garden.ErrTxConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request canceled")
	default:
		s.log.Error("garden operation failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
