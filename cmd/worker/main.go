package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/revohq/revoflow/internal/agents"
	"github.com/revohq/revoflow/internal/api"
	"github.com/revohq/revoflow/internal/auth"
	"github.com/revohq/revoflow/internal/children"
	"github.com/revohq/revoflow/internal/config"
	"github.com/revohq/revoflow/internal/db"
	"github.com/revohq/revoflow/internal/engine"
	"github.com/revohq/revoflow/internal/health"
	"github.com/revohq/revoflow/internal/logging"
	"github.com/revohq/revoflow/internal/metrics"
	"github.com/revohq/revoflow/internal/pipeline"
	"github.com/revohq/revoflow/internal/runs"
	"github.com/revohq/revoflow/internal/stages"
	"github.com/revohq/revoflow/internal/taskmsg"
	"github.com/revohq/revoflow/internal/tasks"
	"github.com/revohq/revoflow/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.New("revoflow-worker")

	shutdown, err := tracing.InitTracing(ctx, "revoflow-worker")
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdown()

	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	// Engine wiring: registries, dead-letter ring, default agents.
	runReg := runs.NewRegistry()
	taskReg := tasks.NewRegistry()
	dlq := engine.NewDeadLetterQueue(cfg.Engine.DLQCapacity)
	eng := engine.New(runReg, taskReg, dlq, engine.Options{
		MaxRetries:    cfg.Engine.MaxRetries,
		BaseBackoff:   cfg.Engine.BaseBackoff,
		BackoffCap:    cfg.Engine.BackoffCap,
		JitterPercent: cfg.Engine.JitterPercent,
	})

	dealStore := stages.NewPGStore(pool)
	guard := stages.NewGuard(stages.NewDealStateMachine(), dealStore, stages.NewPGAuditSink(pool))
	agents.Register(taskReg, agents.Deps{
		Guard:               guard,
		Deals:               dealStore,
		Contracts:           children.NewPGSignedContractLister(pool),
		ContractFromDeal:    children.NewCreator(children.NewPGContractStore(pool), "contract"),
		InvoiceFromContract: children.NewCreator(children.NewPGInvoiceStore(pool), "invoice"),
	})
	agents.RegisterPipeline(taskReg, pipeline.NewOrchestrator(eng), "system", "scheduler")

	var validator *auth.Validator
	if cfg.Auth.Disabled {
		logger.Plain().Warn("auth disabled, all requests admitted")
		validator = auth.NewDisabledValidator()
	} else {
		validator, err = auth.NewValidator(cfg.Auth.PublicKeyPEM, cfg.Auth.Issuer, cfg.Auth.Audience)
		if err != nil {
			logger.Plain().WithError(err).Fatal("jwt validator init failed")
		}
	}

	// The observability API runs in-process so that /v1/runs and
	// /v1/deadletters read the registries the consumer actually fills.
	checker := health.NewChecker("revoflow-worker", pool)
	checker.AddCheck("nsqd", func(ctx context.Context) error {
		return pingNSQD(ctx, cfg.NSQ.NsqdTCPAddr)
	})
	server := api.NewServer(runReg, eng, validator)
	server.Health = checker.Handler()
	server.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	server.Guard = guard

	httpSrv := &http.Server{
		Addr:         cfg.API.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	// NSQ consumer
	conf := nsq.NewConfig()
	conf.MaxInFlight = 100
	consumer, err := nsq.NewConsumer(cfg.NSQ.TasksTopic, cfg.NSQ.WorkerChannel, conf)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq consumer creation failed")
	}

	// DLQ offload producer
	if cfg.Engine.PublishDLQ {
		producer, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
		if err != nil {
			logger.Plain().WithError(err).Fatal("nsq producer for DLQ creation failed")
		}
		defer producer.Stop()
		dlq.SetPublisher(producer, cfg.NSQ.DLQTopic)
	}

	workerCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()

	startBacklogMonitor(cfg)

	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		m.DisableAutoResponse()
		defer func() {
			if !m.HasResponded() {
				logger.Plain().Warn("message had no response, finishing")
				m.Finish()
			}
		}()

		var msg taskmsg.Message
		if err := json.Unmarshal(m.Body, &msg); err != nil {
			logger.Plain().WithError(err).Error("bad task payload")
			metrics.RecordRun("unknown", "failed")
			m.Finish() // terminal: don't retry bad payloads
			return nil
		}

		ctx := tracing.ExtractTraceFromTask(workerCtx, msg.TraceHeaders)
		ctx, span := tracing.StartSpan(ctx, "worker.execute_task",
			attribute.String("task_key", msg.TaskKey),
			attribute.String("tenant_id", msg.TenantID),
		)
		defer span.End()

		result, err := eng.ExecuteTask(ctx, engine.Request{
			TaskKey:  msg.TaskKey,
			TenantID: msg.TenantID,
			UserID:   msg.UserID,
			Payload:  msg.Payload,
		})
		if err != nil {
			// Engine precondition failure, not an executor error.
			tracing.SetSpanError(ctx, err)
			logger.WithContext(ctx).WithTask(msg.TaskKey).WithError(err).Error("task execution rejected")
			m.Finish()
			return nil
		}

		span.SetAttributes(
			attribute.String("run_id", result.RunID),
			attribute.String("run.status", string(result.Status)),
			attribute.Int("run.retry_count", result.RetryCount),
		)
		entry := logger.WithContext(ctx).WithRun(result.RunID).WithTask(msg.TaskKey)
		if result.Status == runs.StatusSucceeded {
			entry.Info("task succeeded")
		} else {
			entry.WithField("dead_lettered", result.DeadLettered).Warn("task failed")
		}

		// Retries are the engine's business; the message is done either
		// way.
		m.Finish()
		return nil
	}))

	// Connecting directly to NSQD forces channel creation, instead of
	// the channel being lazily created on first publish.
	if err := consumer.ConnectToNSQD(cfg.NSQ.NsqdTCPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to nsqd failed")
	}
	if err := consumer.ConnectToNSQLookupd(cfg.NSQ.LookupHTTPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to lookupd failed")
	}

	logger.Plain().Info("worker service started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("Shutting down worker service")
	cancelWork() // in-flight runs abandon their retry loops
	consumer.Stop()
	<-consumer.StopChan
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("worker service stopped")
}

// pingNSQD hits nsqd's HTTP ping endpoint so /healthz reflects broker
// reachability, not just the database.
func pingNSQD(ctx context.Context, tcpAddr string) error {
	httpAddr := strings.Replace(tcpAddr, ":4150", ":4151", 1)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/ping", httpAddr), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nsqd ping status %d", resp.StatusCode)
	}
	return nil
}

// startBacklogMonitor polls nsqd stats and exports the tasks-channel
// depth as a gauge.
func startBacklogMonitor(cfg config.Config) {
	go func() {
		logger := logging.New("revoflow-worker-monitor")
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		httpClient := &http.Client{Timeout: 5 * time.Second}

		for range ticker.C {
			nsqdHTTPAddr := strings.Replace(cfg.NSQ.NsqdTCPAddr, ":4150", ":4151", 1)
			resp, err := httpClient.Get(fmt.Sprintf("http://%s/stats?format=json", nsqdHTTPAddr))
			if err != nil {
				logger.Plain().WithError(err).Error("Failed to get NSQ stats")
				continue
			}

			var stats struct {
				Topics []struct {
					Name     string `json:"topic_name"`
					Channels []struct {
						Name  string `json:"channel_name"`
						Depth int64  `json:"depth"`
					} `json:"channels"`
				} `json:"topics"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
				resp.Body.Close()
				logger.Plain().WithError(err).Error("Failed to decode NSQ stats")
				continue
			}
			resp.Body.Close()

			for _, topic := range stats.Topics {
				if topic.Name != cfg.NSQ.TasksTopic {
					continue
				}
				for _, channel := range topic.Channels {
					if channel.Name == cfg.NSQ.WorkerChannel {
						metrics.UpdateWorkerBacklog(float64(channel.Depth))
					}
				}
			}
		}
	}()
}
