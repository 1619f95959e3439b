package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"vjudge/internal/common/cache"
	"vjudge/internal/common/db"
	commonmw "vjudge/internal/common/http/middleware"
	"vjudge/internal/common/mq"
	"vjudge/internal/common/storage"
	"vjudge/internal/vjudge/controller"
	"vjudge/internal/vjudge/middleware"
	"vjudge/internal/vjudge/provider"
	"vjudge/internal/vjudge/providers/codeforces"
	"vjudge/internal/vjudge/repository"
	"vjudge/internal/vjudge/service"
	"vjudge/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/zeromicro/go-zero/core/threading"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const defaultConfigPath = "configs/vjudge_service.yaml"

// factories lists the providers this binary can run.
var factories = map[string]provider.Factory{
	codeforces.Type: codeforces.New,
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	database, err := openDatabase(appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = database.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(context.Background(), "init minio failed", zap.Error(err))
		return
	}
	files, err := repository.NewFileStore(objStorage, appCfg.Files.Bucket, appCfg.Files.Prefix)
	if err != nil {
		logger.Error(context.Background(), "init problem file store failed", zap.Error(err))
		return
	}
	if err := files.EnsureBucket(context.Background()); err != nil {
		logger.Error(context.Background(), "ensure problem bucket failed", zap.Error(err))
		return
	}

	queue, err := openQueue(appCfg)
	if err != nil {
		logger.Error(context.Background(), "init message queue failed", zap.Error(err))
		return
	}
	// Close is a no-op once Shutdown ran at the end of main.
	defer func() {
		_ = queue.Close()
	}()

	board := repository.NewStatusBoard(redisCache, appCfg.VJudge.StatusTTL)
	records := repository.NewRecordSink(queue, redisCache, appCfg.VJudge.RecordTTL)

	svc, err := service.NewVJudgeService(appCfg.serviceConfig(), service.Dependencies{
		Accounts: repository.NewAccountRepository(database, repository.NewCredentialSealer(appCfg.VJudge.CredentialSecret)),
		Mounts:   repository.NewMountRepository(database),
		Problems: repository.NewProblemRepository(database, appCfg.VJudge.ProblemOwner),
		Settings: repository.NewSettingRepository(database),
		Files:    files,
		Tasks:    queue,
		Results:  records,
		Guard:    service.NewDistributedGuard(service.NewSyncGuard(), redisCache, appCfg.VJudge.LockTTL),
		Status:   board,
	})
	if err != nil {
		logger.Error(context.Background(), "init vjudge service failed", zap.Error(err))
		return
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	for _, name := range appCfg.VJudge.Providers {
		factory, ok := factories[name]
		if !ok {
			logger.Error(runCtx, "unknown provider", zap.String("provider", name))
			return
		}
		if _, err := svc.AddProvider(runCtx, name, factory, false); err != nil {
			logger.Error(runCtx, "register provider failed", zap.String("provider", name), zap.Error(err))
			return
		}
	}

	healthServer := health.NewServer()
	reporter := controller.NewHealthReporter(svc, healthServer)
	threading.GoSafe(func() { svc.RunResync(runCtx) })
	threading.GoSafe(func() { svc.RunStatusReporter(runCtx, appCfg.VJudge.StatusInterval) })
	threading.GoSafe(func() { reporter.Run(runCtx, appCfg.VJudge.StatusInterval) })

	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	grpcListener, err := net.Listen("tcp", appCfg.GRPC.Addr)
	if err != nil {
		logger.Error(runCtx, "init grpc listener failed", zap.Error(err))
		return
	}

	auth := middleware.NewAdminAuth(appCfg.Auth.JWTSecret, appCfg.Auth.JWTIssuer, appCfg.Auth.Roles)
	if auth == nil {
		logger.Warn(runCtx, "jwt secret not set, management api disabled")
	}
	vjudgeController := controller.NewVJudgeController(svc, appCfg.VJudge.Host, board, records)
	httpServer := buildHTTPServer(appCfg.Server, auth, vjudgeController)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(runCtx, "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info(context.Background(), "vjudge http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()
	go func() {
		logger.Info(context.Background(), "vjudge grpc server started", zap.String("addr", appCfg.GRPC.Addr))
		errCh <- grpcServer.Serve(grpcListener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	cancelRun()
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	grpcServer.GracefulStop()
	if err := svc.Close(ctx); err != nil {
		logger.Error(context.Background(), "vjudge workers did not stop in time", zap.Error(err))
	}
	if err := queue.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "message queue did not drain in time", zap.Error(err))
	}
}

func openDatabase(cfg DatabaseConfig) (*db.SQLDatabase, error) {
	if cfg.Driver == "postgres" {
		return db.NewPostgreSQL(db.PostgreSQLConfig{DSN: cfg.DSN, PoolConfig: cfg.pool()})
	}
	return db.NewMySQL(db.MySQLConfig{DSN: cfg.DSN, PoolConfig: cfg.pool()})
}

// openQueue returns Kafka unless the in-process queue is configured for a single node.
func openQueue(cfg *AppConfig) (mq.MessageQueue, error) {
	if cfg.VJudge.Queue == "memory" {
		return mq.NewMemoryQueue(), nil
	}
	return mq.NewKafkaQueue(cfg.Kafka.toMQConfig())
}

func buildHTTPServer(cfg ServerConfig, auth *middleware.AdminAuth, vjudgeController *controller.VJudgeController) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.AccessLog())

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	api := router.Group("/api/v1/vjudge")
	api.Use(middleware.AdminAuthMiddleware(auth))
	vjudgeController.Register(api)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
