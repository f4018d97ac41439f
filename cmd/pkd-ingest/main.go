// pkd-ingest is a one-shot operator tool (SPEC_FULL.md's cmd/ layout) that
// runs a single file through Upload, Parsing, and Validation synchronously,
// bypassing the HTTP surface and the async event bus entirely — useful for
// a scripted bulk-load or a support engineer replaying one problem file.
// Grounded on the teacher's cmd/admin-revoker: a thin flag-driven CLI that
// talks directly to the storage layer instead of through a running server.
package main

import (
	"context"
	"crypto/x509"
	"flag"
	"fmt"
	"os"

	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/iland112/local-pkd-sub003/config"
	"github.com/iland112/local-pkd-sub003/core"
	"github.com/iland112/local-pkd-sub003/events"
	"github.com/iland112/local-pkd-sub003/ldapdir"
	blog "github.com/iland112/local-pkd-sub003/log"
	"github.com/iland112/local-pkd-sub003/metrics"
	"github.com/iland112/local-pkd-sub003/parse"
	"github.com/iland112/local-pkd-sub003/progress"
	"github.com/iland112/local-pkd-sub003/sa"
	"github.com/iland112/local-pkd-sub003/upload"
	"github.com/iland112/local-pkd-sub003/validate"
)

func main() {
	configFile := flag.String("config", "", "File path to the JSON configuration file")
	filePath := flag.String("file", "", "Path to the LDIF or Master List file to ingest")
	flag.Parse()
	if *configFile == "" || *filePath == "" {
		flag.Usage()
		os.Exit(1)
	}

	var c config.Config
	if err := config.ReadJSONFile(*configFile, &c); err != nil {
		fmt.Fprintf(os.Stderr, "reading config file: %s\n", err)
		os.Exit(1)
	}

	logger := blog.Get()
	stats := metrics.NewPromScope(prometheus.NewRegistry())
	clk := clock.Default()

	data, err := os.ReadFile(*filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading %s: %s\n", *filePath, err)
		os.Exit(1)
	}

	dbMap, err := sa.NewDbMap("mysql", string(c.DB.DBConnect), logger)
	blog.FailOnError(err, "connecting to database")
	uploadStore, certStore, crlStore, masterListStore := sa.NewStores(dbMap, clk, logger)
	blobs := sa.NewFileBlobStore(os.TempDir())
	ids := sa.UUIDGenerator{}

	bus := events.NewBus(1, 16, logger, stats)

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
		trustAnchors.AppendCertsFromPEM(pem)
	}

	var spill *validate.SpillQueue
	if c.Validation.SpillQueueDir != "" {
		spill, err = validate.OpenSpillQueue(c.Validation.SpillQueueDir)
		blog.FailOnError(err, "opening validation spill queue")
	}

	progressSvc := progress.NewService("", logger, stats)
	// The upload service publishes FileUploaded on a bus with no
	// subscribers, so the parse service's handler does not start a second,
	// asynchronous run over the same file.
	uploadSvc := upload.NewService(uploadStore, blobs, events.NewBus(1, 1, logger, stats), ids, clk, logger, stats)
	parseSvc := parse.NewService(blobs, uploadStore, masterListStore, bus, progressSvc, ids, trustAnchors, c.Parsing.ProgressEveryN, logger, stats)
	validateSvc := validate.NewService(certStore, crlStore, uploadStore, ldapPublisher, bus, progressSvc, ids, clk,
		ldapdir.Config{BaseDN: c.LDAP.BaseDN, RootRewriteFrom: c.LDAP.RootRewriteFrom},
		c.Validation.BatchSize, c.Parsing.EnableLintPass, spill, logger, stats)

	ctx := context.Background()
	result, err := uploadSvc.Upload(ctx, *filePath, data, "", core.ModeAuto, false)
	if err != nil && result.UploadID == "" {
		fmt.Fprintf(os.Stderr, "upload failed: %s\n", err)
		os.Exit(1)
	}
	fmt.Printf("upload %s accepted (duplicateStatus=%s)\n", result.UploadID, result.DuplicateStatus)

	payload, err := parseSvc.BuildPayload(ctx, result.UploadID, core.ModeAuto)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parsing failed: %s\n", err)
		os.Exit(1)
	}
	fmt.Printf("parsed %d certificates, %d CRLs, %d errors\n", len(payload.ExtractedCerts), len(payload.ExtractedCRLs), len(payload.ParsingErrors))

	if err := validateSvc.ValidateUpload(ctx, payload); err != nil {
		fmt.Fprintf(os.Stderr, "validation failed: %s\n", err)
		os.Exit(1)
	}
	fmt.Println("validation and LDAP publication complete")
}
