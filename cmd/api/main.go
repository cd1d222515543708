package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pedolone.org/internal/audit"
	"pedolone.org/internal/authz"
	"pedolone.org/internal/geo"
	"pedolone.org/internal/httpapi"
	"pedolone.org/internal/obs"
	"pedolone.org/internal/store/pg"
	"pedolone.org/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "unknown"
)

func main() {
	// Local development overrides; missing file is fine.
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		store      authz.Store
		trailStore audit.Store
		probe      httpapi.ReadyProbe
		closeDB    func()
	)
	if dsn := os.Getenv("PEDOLONE_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		trailStore = pg.NewAuditStore(pgStore.DB())
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
		closeDB = func() { _ = pgStore.Close() }
		log.Printf("using postgres store")
	} else {
		store = authz.NewInMemory()
		trailStore = audit.NewInMemory()
		log.Printf("using in-memory store")
	}

	locator := geo.NewLocator()
	trail, err := audit.NewRecorder(trailStore, audit.WithRegionFunc(locator.Lookup))
	if err != nil {
		log.Fatalf("audit recorder: %v", err)
	}

	events := stream.New()

	svc, err := authz.NewService(store,
		authz.WithAuditRecorder(trail),
		authz.WithStream(events),
	)
	if err != nil {
		log.Fatalf("service: %v", err)
	}

	api := httpapi.New(svc, trail,
		httpapi.WithStream(events),
		httpapi.WithVersion(version),
		httpapi.WithReadyProbe(probe),
	)

	handler := api.Handler()
	handler = httpapi.MaxBodyBytes(handler, 1<<20)
	handler = httpapi.CORS(handler)
	handler = httpapi.SecurityHeaders(handler)
	handler = httpapi.LoggingJSON(handler)
	handler = httpapi.RequestID(handler)
	handler = httpapi.RateLimit(handler, 50, 25)

	addr := os.Getenv("PEDOLONE_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting pedolone-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	grpcCtx, grpcCancel := context.WithCancel(context.Background())
	defer grpcCancel()
	if grpcAddr := os.Getenv("PEDOLONE_GRPC_ADDR"); grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		health := httpapi.NewGRPCHealthServer(probe)
		go func() {
			if err := health.Serve(grpcCtx, lis); err != nil {
				log.Printf("grpc health server: %v", err)
			}
		}()
		log.Printf("gRPC health on %s", grpcAddr)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	grpcCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if closeDB != nil {
		closeDB()
	}
	log.Println("Stopped")
}
