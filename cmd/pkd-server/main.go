// pkd-server is the main binary for this service: it wires every bounded
// context (Upload, Parsing, Validation, LDAP Publication, Passive
// Authentication, Progress) around a shared database, LDAP pool, and event
// bus, then serves the external HTTP contract described in spec.md §6.2.
// Grounded on the teacher's cmd/boulder-publisher and cmd/boulder-ca: a
// flag-provided JSON config file, StatsAndLogging-style setup, then direct
// constructor wiring with no dependency-injection framework.
package main

import (
	"context"
	"crypto/x509"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/iland112/local-pkd-sub003/config"
	"github.com/iland112/local-pkd-sub003/events"
	"github.com/iland112/local-pkd-sub003/ldapdir"
	blog "github.com/iland112/local-pkd-sub003/log"
	"github.com/iland112/local-pkd-sub003/metrics"
	"github.com/iland112/local-pkd-sub003/pa"
	"github.com/iland112/local-pkd-sub003/parse"
	"github.com/iland112/local-pkd-sub003/pkdadmin"
	"github.com/iland112/local-pkd-sub003/progress"
	"github.com/iland112/local-pkd-sub003/sa"
	"github.com/iland112/local-pkd-sub003/tracing"
	"github.com/iland112/local-pkd-sub003/upload"
	"github.com/iland112/local-pkd-sub003/validate"
	"github.com/iland112/local-pkd-sub003/web"
)

func main() {
	configFile := flag.String("config", "", "File path to the JSON configuration file for this service")
	yamlOverlay := flag.String("overlay", "", "Optional YAML file overlaid on top of -config for local overrides")
	flag.Parse()
	if *configFile == "" {
		flag.Usage()
		os.Exit(1)
	}

	var c config.Config
	if err := config.ReadJSONFile(*configFile, &c); err != nil {
		fmt.Fprintf(os.Stderr, "reading config file: %s\n", err)
		os.Exit(1)
	}
	if *yamlOverlay != "" {
		if err := config.ReadYAMLOverlay(*yamlOverlay, &c); err != nil {
			fmt.Fprintf(os.Stderr, "reading overlay file: %s\n", err)
			os.Exit(1)
		}
	}

	stdoutLevel, syslogLevel := 6, 6
	if c.Syslog.StdoutLevel != nil {
		stdoutLevel = *c.Syslog.StdoutLevel
	}
	if c.Syslog.SyslogLevel != nil {
		syslogLevel = *c.Syslog.SyslogLevel
	}
	logger, err := blog.Dial(c.Syslog.Network, c.Syslog.Server, c.Syslog.Tag, stdoutLevel, syslogLevel)
	blog.FailOnError(err, "could not connect to syslog")
	blog.Set(logger)
	logger.Info("pkd-server starting")
	defer logger.AuditPanic()

	stats := metrics.NewPromScope(prometheus.DefaultRegisterer)

	shutdown, err := tracing.NewExporter(c.Tracing.Endpoint, "pkd-server")
	blog.FailOnError(err, "setting up tracing exporter")
	defer shutdown(context.Background())

	clk := clock.Default()

	dbMap, err := sa.NewDbMap("mysql", string(c.DB.DBConnect), logger)
	blog.FailOnError(err, "connecting to database")

	uploadStore, certStore, crlStore, masterListStore := sa.NewStores(dbMap, clk, logger)
	blobs := sa.NewFileBlobStore(os.TempDir())
	ids := sa.UUIDGenerator{}

	bus := events.NewBus(c.Validation.WorkerPoolSize, c.Validation.EventQueueDepth, logger, stats)

	progressSvc := progress.NewService(c.Progress.RedisAddr, logger, stats)

	ldapPublisher := ldapdir.NewPublisher(
		ldapdir.Config{BaseDN: c.LDAP.BaseDN, RootRewriteFrom: c.LDAP.RootRewriteFrom},
		string(c.LDAP.URL), string(c.LDAP.BindDN), string(c.LDAP.BindPassword),
		c.LDAP.MinPoolSize, c.LDAP.MaxPoolSize,
		c.LDAP.ConnMaxAge.Duration, c.LDAP.ConnectTimeout.Duration, c.LDAP.ReadTimeout.Duration,
		c.LDAP.KnownParentCacheSize, logger, stats,
	)

	trustAnchors := x509.NewCertPool()
	if c.Parsing.TrustAnchorBundle != "" {
		pem, err := os.ReadFile(c.Parsing.TrustAnchorBundle)
		blog.FailOnError(err, "reading trust anchor bundle")
		if !trustAnchors.AppendCertsFromPEM(pem) {
			blog.FailOnError(fmt.Errorf("no certificates parsed from %s", c.Parsing.TrustAnchorBundle), "loading trust anchors")
		}
	}

	var spill *validate.SpillQueue
	if c.Validation.SpillQueueDir != "" {
		spill, err = validate.OpenSpillQueue(c.Validation.SpillQueueDir)
		blog.FailOnError(err, "opening validation spill queue")
	}

	uploadSvc := upload.NewService(uploadStore, blobs, bus, ids, clk, logger, stats)
	parseSvc := parse.NewService(blobs, uploadStore, masterListStore, bus, progressSvc, ids, trustAnchors, c.Parsing.ProgressEveryN, logger, stats)
	validateSvc := validate.NewService(certStore, crlStore, uploadStore, ldapPublisher, bus, progressSvc,
		ids, clk, ldapdir.Config{BaseDN: c.LDAP.BaseDN, RootRewriteFrom: c.LDAP.RootRewriteFrom},
		c.Validation.BatchSize, c.Parsing.EnableLintPass, spill, logger, stats)
	paVerifier := pa.NewVerifier(ldapPublisher, logger, stats)

	server := web.NewServer(uploadSvc, parseSvc, validateSvc, paVerifier, progressSvc, uploadStore, certStore, clk, logger, stats)

	pollerCtx, cancelPoller := context.WithCancel(context.Background())
	defer cancelPoller()
	if c.Upload.S3Bucket != "" && c.Upload.S3PollPeriod.Duration > 0 {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(c.Upload.S3Region))
		blog.FailOnError(err, "loading AWS SDK config for S3 polling")
		s3Client := s3.NewFromConfig(awsCfg)
		go upload.RunS3Poller(pollerCtx, uploadSvc, s3Client, c.Upload.S3Bucket, c.Upload.S3Prefix, c.Upload.S3PollPeriod.Duration, logger)
		logger.Info(fmt.Sprintf("polling s3://%s/%s every %s", c.Upload.S3Bucket, c.Upload.S3Prefix, c.Upload.S3PollPeriod.Duration))
	}

	httpSrv := &http.Server{
		Addr:    c.HTTP.ListenAddress,
		Handler: server.Handler(),
	}

	// The metrics surface is a separate internal listener from both the
	// external HTTP contract and the admin gRPC control plane below.
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: c.Admin.MetricsListenAddress, Handler: metricsMux}

	adminLis, err := net.Listen("tcp", c.Admin.ListenAddress)
	blog.FailOnError(err, "binding admin gRPC listener")
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(otelgrpc.UnaryServerInterceptor()))
	pkdadmin.RegisterAdminServer(grpcSrv, pkdadmin.NewServer(uploadStore, certStore, logger, stats))

	go func() {
		logger.Info(fmt.Sprintf("admin gRPC listening on %s", c.Admin.ListenAddress))
		if err := grpcSrv.Serve(adminLis); err != nil {
			logger.AuditErr(fmt.Sprintf("admin gRPC server exited: %s", err))
		}
	}()

	go func() {
		logger.Info(fmt.Sprintf("metrics HTTP listening on %s", c.Admin.MetricsListenAddress))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.AuditErr(fmt.Sprintf("metrics HTTP server exited: %s", err))
		}
	}()

	go func() {
		logger.Info(fmt.Sprintf("HTTP listening on %s", c.HTTP.ListenAddress))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.AuditErr(fmt.Sprintf("HTTP server exited: %s", err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("pkd-server shutting down")

	timeout := 30 * time.Second
	if c.HTTP.ShutdownStopTimeout.Duration > 0 {
		timeout = c.HTTP.ShutdownStopTimeout.Duration
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.AuditErr(fmt.Sprintf("HTTP shutdown error: %s", err))
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		logger.AuditErr(fmt.Sprintf("metrics HTTP shutdown error: %s", err))
	}
	grpcSrv.GracefulStop()
}
