package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/raterudder/loadshift/pkg/controller"
	"github.com/raterudder/loadshift/pkg/device"
	"github.com/raterudder/loadshift/pkg/log"
	"github.com/raterudder/loadshift/pkg/state"
	"github.com/raterudder/loadshift/pkg/storage"
	"github.com/raterudder/loadshift/pkg/types"
	"github.com/raterudder/loadshift/pkg/utility"
)

const defaultResubscribeDelay = 5 * time.Second

// tokenVerifier is a function that validates a Google ID Token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// Server wires the price feed, state store and device switches together. All
// state changes, analyses and evaluations happen on a single state.Bus.
type Server struct {
	utilities *utility.Map
	prices    utility.Provider
	store     storage.Store
	switcher  device.Switch

	devices    []types.Device
	entities   types.Entities
	updateHour int
	headroom   decimal.Decimal
	location   *time.Location
	dstFlag    bool
	schedule   string
	now        func() time.Time

	resubscribeDelay time.Duration

	listenAddr           string
	httpServer           *http.Server
	serverName           string
	adminEmails          []string
	oidcVerifier         tokenVerifier
	allowUnauthenticated bool

	state     *state.State
	bus       *state.Bus
	analyzer  *controller.Analyzer
	evaluator *controller.Evaluator

	// bindings maps store entity IDs to what they configure
	bindings map[string]binding
	// known holds the last value seen in or written to the store per entity,
	// only touched on the bus goroutine
	known map[string]string
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(u *utility.Map, st storage.Store, sw device.Switch) *Server {
	srv := &Server{
		utilities:  u,
		store:      st,
		switcher:   sw,
		serverName: "loadshift",
		now:        time.Now,
	}

	defaultEntities := types.DefaultEntities()
	devices := types.DefaultDevices()
	lflag.JSON(&devices, "devices", devices, "JSON list of device descriptors")
	currentPriceEntity := lflag.String("current-price-entity", defaultEntities.CurrentPrice, "Entity the current price is written to")
	minimumPriceEntity := lflag.String("minimum-price-entity", defaultEntities.MinimumPrice, "Entity the minimum upcoming price is written to")
	dstEntity := lflag.String("dst-entity", defaultEntities.DST, "Boolean entity that is on during daylight saving time. Empty converts slot times with --location instead")
	updateHour := lflag.String("update-hour", strconv.Itoa(controller.DefaultUpdateHour), "Local hour (0-23) in which device thresholds are recomputed")
	headroom := lflag.String("headroom", controller.DefaultHeadroom.String(), "Added to the Nth cheapest price to form a threshold, in p/kWh")
	location := lflag.String("location", "Europe/London", "Time zone the device windows are expressed in")
	schedule := lflag.String("schedule", "0,30 * * * *", "Cron schedule for price analysis")
	resubscribeDelay := lflag.Duration("store-resubscribe-delay", defaultResubscribeDelay, "Delay before resubscribing to store changes after the subscription fails")

	// get the port from PORT when running in a container
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	adminEmails := lflag.String("admin-emails", "", "comma-delimited list of email addresses allowed to call POST endpoints")
	oidcAudience := lflag.String("oidc-audience", "", "audience to validate Google ID tokens against for POST endpoints")
	allowUnauthenticated := lflag.Bool("api-allow-unauthenticated", false, "Allow POST endpoints without a token when no oidc-audience is set")

	lflag.Do(func() {
		ctx := context.Background()

		prices, err := srv.utilities.Selected()
		if err != nil {
			panic(err)
		}
		if v, ok := prices.(interface{ Validate() error }); ok {
			if err := v.Validate(); err != nil {
				panic(fmt.Sprintf("utility validation failed: %v", err))
			}
		}
		srv.prices = prices

		srv.devices = devices
		srv.entities = types.Entities{
			CurrentPrice: *currentPriceEntity,
			MinimumPrice: *minimumPriceEntity,
			DST:          *dstEntity,
		}
		srv.dstFlag = *dstEntity != ""

		hour, err := strconv.Atoi(*updateHour)
		if err != nil || hour < 0 || hour > 23 {
			panic(fmt.Sprintf("invalid update-hour: %q", *updateHour))
		}
		srv.updateHour = hour

		srv.headroom, err = decimal.NewFromString(*headroom)
		if err != nil {
			panic(fmt.Sprintf("invalid headroom %q: %v", *headroom, err))
		}

		srv.location, err = time.LoadLocation(*location)
		if err != nil {
			panic(fmt.Sprintf("invalid location %q: %v", *location, err))
		}

		if _, err := cron.ParseStandard(*schedule); err != nil {
			panic(fmt.Sprintf("invalid schedule %q: %v", *schedule, err))
		}
		srv.schedule = *schedule
		srv.resubscribeDelay = *resubscribeDelay

		srv.listenAddr = *listenAddr
		if *adminEmails != "" {
			srv.adminEmails = strings.Split(*adminEmails, ",")
			for i, email := range srv.adminEmails {
				srv.adminEmails[i] = strings.TrimSpace(email)
			}
		}
		if *oidcAudience != "" {
			provider, err := oidc.NewProvider(ctx, "https://accounts.google.com")
			if err != nil {
				log.Ctx(ctx).Error("failed to initialize Google OIDC provider", slog.Any("error", err))
				os.Exit(1)
			}
			srv.oidcVerifier = provider.Verifier(&oidc.Config{ClientID: *oidcAudience}).Verify
		}
		srv.allowUnauthenticated = *allowUnauthenticated

		if err := srv.build(); err != nil {
			panic(err)
		}
	})

	return srv
}

// build creates the state, bus and controllers from the configured fields.
func (s *Server) build() error {
	if len(s.devices) == 0 {
		return errors.New("no devices configured")
	}
	seen := make(map[string]bool, len(s.devices))
	for _, d := range s.devices {
		if d.ID == "" || d.Switch == "" {
			return fmt.Errorf("device %q needs an id and a switch", d.Name)
		}
		if seen[d.ID] {
			return fmt.Errorf("duplicate device id: %s", d.ID)
		}
		seen[d.ID] = true
		if d.StartEntity == "" || d.StopEntity == "" {
			return fmt.Errorf("device %s needs start and stop entities", d.ID)
		}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.location == nil {
		s.location = time.Local
	}
	if s.resubscribeDelay <= 0 {
		s.resubscribeDelay = defaultResubscribeDelay
	}

	cfg := controller.Config{
		Devices:    s.devices,
		UpdateHour: s.updateHour,
		Headroom:   s.headroom,
		Location:   s.location,
		DSTFlag:    s.dstFlag,
		Now:        s.now,
	}
	s.state = state.New(s.devices)
	s.bus = state.NewBus(s.state)
	s.analyzer = controller.NewAnalyzer(cfg, s.prices, s.state)
	s.evaluator = controller.NewEvaluator(cfg, s.state, s.switcher)
	s.bindings = s.buildBindings()
	s.known = make(map[string]string, len(s.bindings))
	s.subscribeHandlers()
	return nil
}

// Run starts the bus, the analysis schedule, the store subscription and the
// HTTP server and blocks until the context is canceled or one of them fails.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.bus.Run(ctx)
	})
	g.Go(func() error {
		return s.runHTTP(ctx)
	})
	g.Go(func() error {
		return s.runControl(ctx)
	})
	return g.Wait()
}

// runControl loads the initial state, runs the first cycle and then follows
// the schedule and store changes until ctx is done. A failed store
// subscription is retried after resubscribeDelay; the schedule keeps running
// in the meantime.
func (s *Server) runControl(ctx context.Context) error {
	if err := s.bus.Submit(ctx, "load", s.loadState); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to load initial state: %w", err)
	}

	// failures here are logged by the bus and retried on the next schedule
	_ = s.bus.Submit(ctx, "analyze", s.analyze)
	_ = s.bus.Submit(ctx, "evaluate", s.evaluator.EvaluateAll)

	c := cron.New(cron.WithLocation(s.location))
	if _, err := c.AddFunc(s.schedule, func() {
		_ = s.bus.Submit(ctx, "analyze", s.analyze)
	}); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", s.schedule, err)
	}
	c.Start()
	defer c.Stop()
	log.Ctx(ctx).InfoContext(ctx, "scheduled analysis", slog.String("schedule", s.schedule), slog.String("location", s.location.String()))

	onChange := func(change storage.Change) {
		if _, ok := s.bindings[change.EntityID]; !ok {
			return
		}
		_ = s.bus.Submit(ctx, "sync "+change.EntityID, func(ctx context.Context) error {
			return s.applyChange(ctx, change.EntityID, change.State)
		})
	}
	for {
		err := s.store.Subscribe(ctx, onChange)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("subscription ended")
		}
		log.Ctx(ctx).ErrorContext(
			ctx,
			"store subscription failed, resubscribing",
			slog.Any("error", err),
			slog.Duration("delay", s.resubscribeDelay),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.resubscribeDelay):
		}

		// pick up whatever changed while disconnected
		if err := s.bus.Submit(ctx, "reload", s.reloadState); err != nil && ctx.Err() == nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to reload state", slog.Any("error", err))
		}
	}
}

func (s *Server) analyze(ctx context.Context) error {
	_, err := s.analyzer.Analyze(ctx)
	return err
}

// runHTTP starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) runHTTP(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/state", s.handleState)
	apiMux.HandleFunc("GET /api/plan", s.handlePlan)
	apiMux.HandleFunc("GET /api/list/utilities", s.handleListUtilities)
	apiMux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	apiMux.HandleFunc("POST /api/override", s.handleOverride)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		if strings.HasPrefix(r.URL.Path, "/api/") {
			// state changes every half hour at most, never serve it stale
			w.Header().Set("Cache-Control", "no-store")
		}
		next.ServeHTTP(w, r)
	})
}
