package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/raystack/salt/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/odpf/custodian/config"
	"github.com/odpf/custodian/core/job/broadcaster"
	"github.com/odpf/custodian/core/job/executor"
	"github.com/odpf/custodian/core/job/output"
	"github.com/odpf/custodian/core/job/queue"
	"github.com/odpf/custodian/core/job/service"
	"github.com/odpf/custodian/ext/cloud"
	"github.com/odpf/custodian/ext/cloud/rclone"
	"github.com/odpf/custodian/ext/notify"
	"github.com/odpf/custodian/ext/notify/pagerduty"
	"github.com/odpf/custodian/ext/notify/slack"
	"github.com/odpf/custodian/ext/process"
	"github.com/odpf/custodian/internal/errors"
	"github.com/odpf/custodian/internal/store/postgres"
	"github.com/odpf/custodian/server/handler"
)

const (
	shutdownWait      = 30 * time.Second
	storeWriteTimeout = 5 * time.Second
	httpReadTimeout   = 30 * time.Second
)

type setupFn func() error

type CustodianServer struct {
	conf   *config.Custodian
	logger log.Logger

	dbConn *gorm.DB

	serverAddr string
	httpServer *http.Server

	jobRepo   *postgres.JobRepository
	gateway   *postgres.Gateway
	admission *queue.Controller
	bus       *broadcaster.Broadcaster
	runner    *service.Runner

	appCtx    context.Context
	appCancel context.CancelFunc
	cleanupFn []func() error
}

func New(conf *config.Custodian) (*CustodianServer, error) {
	addr := fmt.Sprintf("%s:%d", conf.Serve.Host, conf.Serve.Port)
	appCtx, appCancel := context.WithCancel(context.Background())
	server := &CustodianServer{
		conf:       conf,
		serverAddr: addr,
		logger:     createLogger(conf),
		appCtx:     appCtx,
		appCancel:  appCancel,
	}

	setupFns := []setupFn{
		server.setupDB,
		server.setupPersistence,
		server.setupJobRunner,
		server.setupHTTPServer,
	}

	for _, fn := range setupFns {
		if err := fn(); err != nil {
			return server, err
		}
	}

	server.logger.Info("starting custodian", "version", conf.Version)
	server.startListening()

	return server, nil
}

func createLogger(conf *config.Custodian) *log.Logrus {
	return log.NewLogrus(
		log.LogrusWithLevel(conf.Log.Level),
		log.LogrusWithWriter(os.Stderr),
	)
}

func (s *CustodianServer) setupDB() error {
	var err error
	s.dbConn, err = postgres.Connect(s.conf.Serve.DB.DSN, s.conf.Serve.DB.MaxIdleConnection, s.conf.Serve.DB.MaxOpenConnection)
	if err != nil {
		return fmt.Errorf("postgres.Connect: %w", err)
	}
	if err := postgres.Migrate(s.dbConn); err != nil {
		return fmt.Errorf("postgres.Migrate: %w", err)
	}
	return nil
}

func (s *CustodianServer) setupPersistence() error {
	s.jobRepo = postgres.NewJobRepository(s.dbConn)
	s.gateway = postgres.NewGateway(s.jobRepo, s.conf.Jobs.StoreQueueSize, storeWriteTimeout, s.logger)
	go s.gateway.Run(s.appCtx)
	s.cleanupFn = append(s.cleanupFn, s.gateway.Close)
	return nil
}

func (s *CustodianServer) setupJobRunner() error {
	outputs := output.NewManager(s.conf.Jobs.MaxOutputLinesPerJob)

	s.bus = broadcaster.New(s.conf.Jobs.SubscriberQueueSize, s.conf.Jobs.KeepaliveInterval, s.logger)
	go s.bus.Run(s.appCtx)
	s.cleanupFn = append(s.cleanupFn, s.bus.Close)

	s.admission = queue.NewController(
		s.conf.Jobs.MaxConcurrentBackups,
		s.conf.Jobs.MaxConcurrentOperations,
		s.conf.Jobs.QueuePollInterval,
		s.logger,
	)
	go s.admission.Run(s.appCtx)
	s.cleanupFn = append(s.cleanupFn, s.admission.Close)

	procRunner := process.NewRunner(s.logger)
	processes := executor.NewProcessTable()
	repoStore := postgres.NewRepositoryStore(s.dbConn)

	deps := executor.Deps{
		Logger:    s.logger,
		Runner:    procRunner,
		Output:    outputs,
		Events:    s.bus,
		Store:     repoStore,
		Processes: processes,
	}

	registry := executor.NewRegistry(
		executor.NewHookExecutor(deps),
		executor.NewBackupExecutor(deps),
		executor.NewPruneExecutor(deps),
		executor.NewCompactExecutor(deps),
		executor.NewCheckExecutor(deps),
		executor.NewCloudSyncExecutor(deps, s.cloudProvider(procRunner)),
		executor.NewNotificationExecutor(deps, s.notifySender()),
	)

	s.runner = service.NewRunner(s.logger, registry, s.admission, s.bus, outputs, s.gateway, processes, procRunner)
	return nil
}

func (s *CustodianServer) notifySender() notify.Sender {
	switch s.conf.Notify.Provider {
	case "slack":
		return slack.NewNotifier(s.conf.Notify.Slack.OAuthToken, s.conf.Notify.Slack.Channel)
	case "pagerduty":
		return pagerduty.NewNotifier(s.conf.Notify.PagerDuty.RoutingKey, s.conf.Notify.PagerDuty.Source)
	}
	return notify.NoopSender{}
}

func (s *CustodianServer) cloudProvider(procRunner *process.Runner) cloud.Provider {
	if s.conf.Cloud.RcloneRemote == "" {
		return cloud.Disabled{}
	}
	return rclone.NewProvider(s.conf.Cloud.RcloneRemote, procRunner, s.logger)
}

func (s *CustodianServer) setupHTTPServer() error {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	jobHandler := handler.NewJobHandler(s.logger, s.runner, s.jobRepo, s.admission)
	jobHandler.Register(router)

	s.httpServer = &http.Server{
		Addr:        s.serverAddr,
		Handler:     router,
		ReadTimeout: httpReadTimeout,
		// no write timeout: the stream endpoint holds connections open
	}
	return nil
}

func (s *CustodianServer) startListening() {
	// run in a goroutine so New doesn't block waiting for termination
	go func() {
		s.logger.Info("listening at", "address", s.serverAddr)
		if err := s.httpServer.ListenAndServe(); err != nil {
			if err != http.ErrServerClosed {
				s.logger.Fatal("server error", "error", err)
			}
		}
	}()
}

func (s *CustodianServer) Shutdown() {
	s.logger.Warn("shutting down server")
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("error in http shutdown", "error", err)
		}
	}

	if s.runner != nil {
		s.runner.Wait()
	}

	s.appCancel()
	cleanupErrs := errors.NewMultiError("cleanup")
	for _, fn := range s.cleanupFn {
		cleanupErrs.Append(fn())
	}
	if err := errors.MultiToError(cleanupErrs); err != nil {
		s.logger.Error("error during cleanup", "error", err)
	}

	if s.dbConn != nil {
		sqlConn, err := s.dbConn.DB()
		if err != nil {
			s.logger.Error("error while getting sqlConn", "error", err)
		} else if err := sqlConn.Close(); err != nil {
			s.logger.Error("error in sqlConn.Close", "error", err)
		}
	}

	s.logger.Info("server shutdown complete")
}
