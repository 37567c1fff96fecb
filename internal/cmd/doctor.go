package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/lakeview/internal/config"
	apperrors "github.com/3leaps/lakeview/internal/errors"
	"github.com/3leaps/lakeview/internal/observability"
	"github.com/3leaps/lakeview/pkg/inventory"
	"github.com/3leaps/lakeview/pkg/inventory/athena"
	"github.com/3leaps/lakeview/pkg/inventory/sqlite"
	"github.com/3leaps/lakeview/pkg/listing"
)

// imdsTimeout bounds the instance metadata probe off EC2.
const imdsTimeout = time.Second

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the environment and the configured inventory
backend, and suggest fixes for common issues.

Examples:
  lakeview doctor
  lakeview doctor --backend sqlite --sqlite-path ./inventory.db`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	addBackendFlags(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	observability.CLILogger.Info("=== " + bannerName + " ===")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Running diagnostic checks...")
	observability.CLILogger.Info("")

	allChecks := true
	checkNum := 1
	totalChecks := 9

	// Check 1: Go version
	goVersion := runtime.Version()
	if goVersion >= "go1.25" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
	} else {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking Go version... ⚠️  %s (built for go1.25+)", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
		allChecks = false
	}
	checkNum++

	// Check 2: Crucible access
	version := crucible.GetVersion()
	if version.Crucible != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Crucible access... ✅ v%s", checkNum, totalChecks, version.Crucible),
			zap.String("crucible_version", version.Crucible))
	} else {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Crucible access... ❌ Cannot access Crucible", checkNum, totalChecks))
		ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable, "Cannot access Crucible",
			apperrors.NewExternalServiceError("Crucible service unavailable"))
	}
	checkNum++

	// Check 3: Gofulmen access
	if version.Gofulmen != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ✅ v%s", checkNum, totalChecks, version.Gofulmen),
			zap.String("gofulmen_version", version.Gofulmen))
	} else {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ❌ Cannot access Gofulmen", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	// Check 4: Config directory
	configDir, err := os.UserConfigDir()
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking config directory... ❌ Cannot find config directory", checkNum, totalChecks),
			zap.Error(err))
		ExitWithCode(observability.CLILogger, foundry.ExitFileNotFound, "Cannot find config directory",
			apperrors.WrapInternal(ctx, err, "Cannot find config directory"))
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking config directory... ✅ %s", checkNum, totalChecks, configDir),
		zap.String("config_dir", configDir))
	checkNum++

	// Check 5: Environment
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
	checkNum++

	// Check 6: Configuration
	cfg, err := loadConfig(cmd, backendBindings)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking configuration... ❌ Invalid configuration", checkNum, totalChecks),
			zap.Error(err))
		observability.CLILogger.Info("")
		observability.CLILogger.Warn("⚠️  Fix the configuration and run doctor again.")
		return
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking configuration... ✅ backend %s", checkNum, totalChecks, cfg.Backend),
		backendSummary(cfg)...)
	checkNum++

	switch inventory.Backend(cfg.Backend) {
	case inventory.BackendSQLite:
		allChecks = runSQLiteChecks(ctx, cfg, checkNum, totalChecks) && allChecks
	default:
		allChecks = runAWSChecks(ctx, cfg, checkNum, totalChecks) && allChecks
	}

	observability.CLILogger.Info("")
	if allChecks {
		observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== End Diagnostics ===")
}

// runAWSChecks verifies credentials for the Athena backend.
func runAWSChecks(ctx context.Context, cfg *config.Config, checkNum, totalChecks int) bool {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Athena Backend Checks:")

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Athena.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Athena.Region))
	}
	if cfg.Athena.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Athena.Profile))
	}

	// Check 7: AWS credentials
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot load AWS config", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot retrieve credentials", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	maskedKey := maskAccessKey(creds.AccessKeyID)
	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Found credentials (%s)", checkNum, totalChecks, source),
		zap.String("access_key", maskedKey),
		zap.String("source", source))
	checkNum++

	// Check 8: Region
	region := awsCfg.Region
	origin := "config"
	if region == "" {
		region, origin = imdsRegion(ctx), "instance metadata"
	}
	if region == "" {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking AWS region... ⚠️  No region configured (us-east-1 will be used)", checkNum, totalChecks))
		awsCfg.Region = athena.DefaultAWSRegion
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking AWS region... ✅ %s", checkNum, totalChecks, region),
			zap.String("region", region),
			zap.String("origin", origin))
		awsCfg.Region = region
	}
	checkNum++

	// Check 9: Query output location
	if cfg.Athena.OutputLocation == "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking query output location... ✅ Using workgroup %q default", checkNum, totalChecks, cfg.Athena.WorkGroup))
		return true
	}
	loc, err := athena.ParseLocation(cfg.Athena.OutputLocation)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking query output location... ❌ Invalid location", checkNum, totalChecks),
			zap.Error(err))
		return false
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Athena.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Athena.Endpoint)
			o.UsePathStyle = true
		}
	})
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(loc.Bucket)}); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking query output location... ❌ Bucket %s not reachable", checkNum, totalChecks, loc.Bucket),
			zap.Error(err))
		return false
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking query output location... ✅ %s", checkNum, totalChecks, loc),
		zap.String("bucket", loc.Bucket))
	return true
}

// imdsRegion asks the EC2 instance metadata service for the region. It
// returns "" when not running on EC2.
func imdsRegion(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, imdsTimeout)
	defer cancel()

	out, err := imds.New(imds.Options{}).GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil {
		observability.CLILogger.Debug("Instance metadata unavailable", zap.Error(err))
		return ""
	}
	return out.Region
}

// runSQLiteChecks opens the local inventory and counts its rows.
func runSQLiteChecks(ctx context.Context, cfg *config.Config, checkNum, totalChecks int) bool {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("SQLite Backend Checks:")

	// Check 7: Open database
	svc, err := sqlite.OpenService(ctx, cfg.SQLite.StoreConfig(), cfg.SQLite.Options())
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking inventory database... ❌ Cannot open", checkNum, totalChecks),
			zap.Error(err))
		return false
	}
	defer func() { _ = svc.Close() }()

	if err := svc.Ping(ctx); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking inventory database... ❌ Unreachable", checkNum, totalChecks),
			zap.Error(err))
		return false
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking inventory database... ✅ Connected", checkNum, totalChecks))
	checkNum++

	// Check 8: Row count
	n, err := sqlite.CountRows(ctx, svc.DB())
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking inventory rows... ❌ Cannot count rows", checkNum, totalChecks),
			zap.Error(err))
		return false
	}
	if n == 0 {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking inventory rows... ⚠️  Inventory table is empty", checkNum, totalChecks))
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking inventory rows... ✅ %d rows", checkNum, totalChecks, n),
			zap.Int64("rows", n))
	}
	checkNum++

	// Check 9: Root listing
	rows, err := svc.FetchRows(ctx, inventory.Query{})
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking root listing... ❌ Query failed", checkNum, totalChecks),
			zap.Error(err))
		return false
	}
	defer func() { _ = rows.Close() }()
	root, err := listing.Build(listing.Root(), rows)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking root listing... ❌ Query failed", checkNum, totalChecks),
			zap.Error(err))
		return false
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking root listing... ✅ %d folder(s), %d file(s)", checkNum, totalChecks, root.Stats.Folders, root.Stats.Files),
		zap.Int64("rows_discarded", root.Stats.RowsDiscarded))
	return true
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure AWS credentials:")
	observability.CLILogger.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	observability.CLILogger.Info("  2. Run 'aws configure' to set up a profile (select it with --profile), or")
	observability.CLILogger.Info("  3. Use an IAM role when running on AWS infrastructure")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("The identity needs athena:StartQueryExecution, athena:GetQueryExecution,")
	observability.CLILogger.Info("athena:GetQueryResults, glue:GetTable, read access to the inventory")
	observability.CLILogger.Info("bucket, and read/write access to the query output location.")
	observability.CLILogger.Info("")
}
