// pkd-verify is a one-shot operator tool that runs a single Passive
// Authentication check against the configured LDAP directory, without
// starting the HTTP server. Useful for support engineers re-checking one
// passport's SOD offline. Mirrors pkd-ingest's direct-wiring style.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iland112/local-pkd-sub003/config"
	"github.com/iland112/local-pkd-sub003/ldapdir"
	blog "github.com/iland112/local-pkd-sub003/log"
	"github.com/iland112/local-pkd-sub003/metrics"
	"github.com/iland112/local-pkd-sub003/pa"
)

func main() {
	configFile := flag.String("config", "", "File path to the JSON configuration file")
	country := flag.String("country", "", "Issuing country code (2 or 3 uppercase letters)")
	sodPath := flag.String("sod", "", "Path to the DER-encoded SOD (EF.SOD)")
	dgFlag := flag.String("dg", "", "Comma-separated DGn=path pairs, e.g. DG1=dg1.bin,DG2=dg2.bin")
	flag.Parse()
	if *configFile == "" || *country == "" || *sodPath == "" || *dgFlag == "" {
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

	sod, err := os.ReadFile(*sodPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading SOD file: %s\n", err)
		os.Exit(1)
	}

	dataGroups := make(map[string][]byte)
	for _, pair := range strings.Split(*dgFlag, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			fmt.Fprintf(os.Stderr, "malformed -dg entry %q, expected DGn=path\n", pair)
			os.Exit(1)
		}
		data, err := os.ReadFile(parts[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading %s: %s\n", parts[1], err)
			os.Exit(1)
		}
		dataGroups[parts[0]] = data
	}

	ldapPublisher := ldapdir.NewPublisher(
		ldapdir.Config{BaseDN: c.LDAP.BaseDN, RootRewriteFrom: c.LDAP.RootRewriteFrom},
		string(c.LDAP.URL), string(c.LDAP.BindDN), string(c.LDAP.BindPassword),
		c.LDAP.MinPoolSize, c.LDAP.MaxPoolSize,
		c.LDAP.ConnMaxAge.Duration, c.LDAP.ConnectTimeout.Duration, c.LDAP.ReadTimeout.Duration,
		c.LDAP.KnownParentCacheSize, logger, stats,
	)

	verifier := pa.NewVerifier(ldapPublisher, logger, stats)

	result, err := verifier.Verify(context.Background(), pa.Request{
		IssuingCountry: *country,
		SOD:            sod,
		DataGroups:     dataGroups,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "verification could not run: %s\n", err)
		os.Exit(1)
	}

	fmt.Printf("status: %s\n", result.Status)
	fmt.Printf("certificateChainValidation: valid=%t message=%q\n", result.CertificateChainValidation.Valid, result.CertificateChainValidation.Message)
	fmt.Printf("sodSignatureValidation: valid=%t message=%q\n", result.SODSignatureValidation.Valid, result.SODSignatureValidation.Message)
	fmt.Printf("dataGroupValidation: valid=%t message=%q\n", result.DataGroupValidation.Valid, result.DataGroupValidation.Message)
	for dg, ok := range result.DataGroupValidation.PerDG {
		fmt.Printf("  %s: %t\n", dg, ok)
	}

	if result.Status != pa.StatusValid {
		os.Exit(1)
	}
}
