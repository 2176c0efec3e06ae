package config

import "errors"

var (
	ErrReadingConfigFile    = errors.New("failed to read config file")
	ErrUnmarshallingConfig  = errors.New("failed to unmarshal config")
	ErrConfigFileMissing    = errors.New("config file not found")
	ErrEmptyServerAddr      = errors.New("server addr cannot be empty")
	ErrInvalidUploadLimit   = errors.New("server maxUploadMB must be positive")
	ErrEmptyStoreDirectory  = errors.New("store directory cannot be empty")
	ErrEmptyAnalyticsTable  = errors.New("analytics table cannot be empty")
	ErrEmptyS3Bucket        = errors.New("s3 bucket cannot be empty when s3 is enabled")
	ErrEmptyS3Region        = errors.New("s3 region cannot be empty when s3 is enabled")
	ErrEmptyKafkaBrokers    = errors.New("kafka brokers list cannot be empty when publishing is enabled")
	ErrEmptyKafkaTopic      = errors.New("kafka topic cannot be empty when publishing is enabled")
	ErrInvalidPipelineQueue = errors.New("pipeline queueSize must be positive")
)
