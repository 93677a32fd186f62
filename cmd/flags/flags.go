// Package flags holds the CLI flags shared by the server binaries, plus
// helpers that turn a parsed cli.Context into a logger, an HTTP server
// config, and the service tunables.
package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/exposafe/diagnosis-server/common"
	"github.com/exposafe/diagnosis-server/config"
	"github.com/exposafe/diagnosis-server/httpserver"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String(LogServiceFlag.Name)

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	listenAddr := cCtx.String(ListenAddrFlag.Name)
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

// ServiceConfig builds the service tunables from the parsed flags, starting
// from the production defaults.
func ServiceConfig(cCtx *cli.Context) config.Config {
	cfg := config.Default()
	cfg.InitialRemainingKeys = cCtx.Int(KeyQuotaFlag.Name)
	cfg.MaxKeysInUpload = cCtx.Int(MaxKeysInUploadFlag.Name)
	cfg.MaxConsecutiveClaimFailures = cCtx.Int(MaxClaimFailuresFlag.Name)
	cfg.ClaimBanDuration = time.Duration(cCtx.Int64(ClaimBanSecondsFlag.Name)) * time.Second
	cfg.OneTimeCodeLifetime = time.Duration(cCtx.Int64(CodeLifetimeSecondsFlag.Name)) * time.Second
	cfg.KeypairValidityDays = cCtx.Int(KeypairValidityDaysFlag.Name)
	cfg.RetentionDays = cCtx.Int(RetentionDaysFlag.Name)
	cfg.ExpirationInterval = time.Duration(cCtx.Int64(ExpirationIntervalSecondsFlag.Name)) * time.Second
	cfg.Region = cCtx.String(RegionFlag.Name)
	cfg.EnablePeriodBundle = cCtx.Bool(EnablePeriodBundleFlag.Name)
	cfg.CORSAllowOrigin = cCtx.String(CorsAllowOriginFlag.Name)
	return cfg
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}
var DatabaseDSNFlag = &cli.StringFlag{
	Name:     "database-dsn",
	Required: true,
	Usage:    "PostgreSQL DSN for the diagnosis key store",
	EnvVars:  []string{"DATABASE_DSN"},
}

var KeyClaimTokensFlag = &cli.StringFlag{
	Name:     "key-claim-tokens",
	Required: true,
	Usage:    "token=region assignments for code issuance, e.g. 'token1=302:token2=302'",
	EnvVars:  []string{"KEY_CLAIM_TOKENS"},
}
var RetrieveHmacKeyFlag = &cli.StringFlag{
	Name:     "retrieve-hmac-key",
	Required: true,
	Usage:    "hex-encoded HMAC key authorizing retrieval requests, at least 32 bytes",
	EnvVars:  []string{"RETRIEVE_HMAC_KEY"},
}
var EcdsaKeyFlag = &cli.StringFlag{
	Name:     "ecdsa-key",
	Required: true,
	Usage:    "hex-encoded SEC1 ECDSA P-256 private key used to sign exports",
	EnvVars:  []string{"ECDSA_KEY"},
}

var RegionFlag = &cli.StringFlag{
	Name:  "region",
	Value: "302",
	Usage: "region code stamped on stored keys and exports (MCC)",
}
var KeyQuotaFlag = &cli.IntFlag{
	Name:  "key-quota",
	Value: 14,
	Usage: "diagnosis keys a claimed keypair may upload in total",
}
var MaxKeysInUploadFlag = &cli.IntFlag{
	Name:  "max-keys-in-upload",
	Value: 14,
	Usage: "maximum keys accepted in a single upload",
}
var MaxClaimFailuresFlag = &cli.IntFlag{
	Name:  "max-claim-failures",
	Value: 8,
	Usage: "failed claim attempts before an IP is temporarily banned",
}
var ClaimBanSecondsFlag = &cli.Int64Flag{
	Name:  "claim-ban-seconds",
	Value: 3600,
	Usage: "seconds an IP stays banned after exhausting claim attempts",
}
var CodeLifetimeSecondsFlag = &cli.Int64Flag{
	Name:  "code-lifetime-seconds",
	Value: 86400,
	Usage: "seconds an unclaimed one-time code stays redeemable",
}
var KeypairValidityDaysFlag = &cli.IntFlag{
	Name:  "keypair-validity-days",
	Value: 14,
	Usage: "days after claiming during which a keypair can still upload",
}
var RetentionDaysFlag = &cli.IntFlag{
	Name:  "retention-days",
	Value: 14,
	Usage: "days diagnosis keys and outbreak events are retained and served",
}
var ExpirationIntervalSecondsFlag = &cli.Int64Flag{
	Name:  "expiration-interval-seconds",
	Value: 30,
	Usage: "seconds between expiration sweeps",
}
var EnablePeriodBundleFlag = &cli.BoolFlag{
	Name:  "enable-period-bundle",
	Value: false,
	Usage: "serve the whole retention window as one bundle on date number 00000",
}
var CorsAllowOriginFlag = &cli.StringFlag{
	Name:  "cors-allow-origin",
	Value: "*",
	Usage: "Access-Control-Allow-Origin served on code issuance endpoints",
}

var BranchFlag = &cli.StringFlag{
	Name:  "branch",
	Value: "",
	Usage: "source branch reported by /services/version.json",
}
var RevisionFlag = &cli.StringFlag{
	Name:  "revision",
	Value: "",
	Usage: "source revision reported by /services/version.json",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: "diagnosis-server",
	Usage: "add 'service' tag to logs",
}
var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}

// CommonFlags are shared by the submission and retrieval servers.
var CommonFlags = []cli.Flag{
	ListenAddrFlag,
	MetricsAddrFlag,
	DatabaseDSNFlag,
	RegionFlag,
	KeyQuotaFlag,
	MaxKeysInUploadFlag,
	MaxClaimFailuresFlag,
	ClaimBanSecondsFlag,
	CodeLifetimeSecondsFlag,
	KeypairValidityDaysFlag,
	RetentionDaysFlag,
	ExpirationIntervalSecondsFlag,
	EnablePeriodBundleFlag,
	CorsAllowOriginFlag,
	BranchFlag,
	RevisionFlag,
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
	PprofFlag,
	DrainSecondsFlag,
}
