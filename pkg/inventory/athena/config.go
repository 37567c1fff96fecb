// Package athena implements inventory.QueryService on Amazon Athena.
//
// Queries run against a table created over an S3 Inventory report (ORC or
// Parquet format, so keys are stored unencoded). Results are materialised by
// Athena to OutputLocation and read back page by page.
package athena

import (
	"regexp"
	"time"
)

// Config configures an Athena query service.
//
// Authentication follows the AWS SDK v2 default chain unless explicit
// credentials are set, exactly like the S3 provider configuration.
type Config struct {
	// Database is the Glue/Athena database holding the inventory table (required).
	Database string

	// Table is the inventory table name (required).
	Table string

	// Catalog is the data catalog. Empty uses AwsDataCatalog.
	Catalog string

	// WorkGroup is the Athena workgroup. Empty uses the account default.
	WorkGroup string

	// OutputLocation is the s3:// URI where Athena writes query results.
	// Required unless WorkGroup enforces its own output location.
	OutputLocation string

	// Bucket restricts rows to one source bucket when the inventory table
	// covers several. Optional.
	Bucket string

	// Snapshot selects an inventory partition (the dt column). Optional.
	Snapshot string

	// Versioned adds is_latest/is_delete_marker predicates for inventories
	// generated with all object versions.
	Versioned bool

	// Region is the AWS region.
	Region string

	// Endpoint is a custom endpoint URL (e.g., a local moto server).
	Endpoint string

	// Profile is the AWS profile name to use from shared config.
	Profile string

	// AccessKeyID is an explicit access key. If set, SecretAccessKey must also be set.
	AccessKeyID string

	// SecretAccessKey is an explicit secret key. Required if AccessKeyID is set.
	SecretAccessKey string

	// PageSize is the GetQueryResults page size. Zero uses DefaultPageSize;
	// values over MaxPageSize are clamped.
	PageSize int

	// PollInterval is the initial delay between GetQueryExecution polls.
	PollInterval time.Duration

	// MaxPollInterval caps the doubling poll delay.
	MaxPollInterval time.Duration

	// RateLimit caps StartQueryExecution calls per second. Zero is unlimited.
	RateLimit float64
}

const (
	// DefaultCatalog is Athena's built-in Glue catalog.
	DefaultCatalog = "AwsDataCatalog"

	// DefaultPageSize is the default GetQueryResults page size.
	DefaultPageSize = 1000

	// MaxPageSize is the maximum page size Athena accepts.
	MaxPageSize = 1000

	// DefaultPollInterval is the first GetQueryExecution poll delay.
	DefaultPollInterval = 250 * time.Millisecond

	// DefaultMaxPollInterval caps the poll delay.
	DefaultMaxPollInterval = 2 * time.Second

	// DefaultAWSRegion is the fallback region when none is configured.
	DefaultAWSRegion = "us-east-1"
)

var identifierRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Database == "" {
		return &ConfigError{Field: "Database", Message: "database name is required"}
	}
	if !identifierRe.MatchString(c.Database) {
		return &ConfigError{Field: "Database", Message: "database name may only contain letters, digits, '_' and '-'"}
	}
	if c.Table == "" {
		return &ConfigError{Field: "Table", Message: "table name is required"}
	}
	if !identifierRe.MatchString(c.Table) {
		return &ConfigError{Field: "Table", Message: "table name may only contain letters, digits, '_' and '-'"}
	}

	if c.OutputLocation == "" && c.WorkGroup == "" {
		return &ConfigError{Field: "OutputLocation", Message: "output location is required when no workgroup is set"}
	}
	if c.OutputLocation != "" {
		if _, err := ParseLocation(c.OutputLocation); err != nil {
			return &ConfigError{Field: "OutputLocation", Message: "output location must be an s3:// URI: " + err.Error()}
		}
	}

	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}

	if c.RateLimit < 0 {
		return &ConfigError{Field: "RateLimit", Message: "rate limit must be >= 0"}
	}

	return nil
}

// withDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) withDefaults() Config {
	if c.Catalog == "" {
		c.Catalog = DefaultCatalog
	}
	c.PageSize = clampPageSize(c.PageSize)
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxPollInterval <= 0 {
		c.MaxPollInterval = DefaultMaxPollInterval
	}
	if c.MaxPollInterval < c.PollInterval {
		c.MaxPollInterval = c.PollInterval
	}
	return c
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "athena config: " + e.Field + ": " + e.Message
}

// clampPageSize applies the default and upper bound to a page size.
func clampPageSize(requested int) int {
	if requested <= 0 {
		return DefaultPageSize
	}
	if requested > MaxPageSize {
		return MaxPageSize
	}
	return requested
}

// resolveRegion applies the fallback region after SDK config loading.
//
// The SDK has already applied an explicit region, environment variables,
// and the shared profile. Only AWS endpoints get the us-east-1 default; a
// custom endpoint keeps whatever the SDK resolved.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint == "" {
		return DefaultAWSRegion
	}
	return ""
}
