package pipeline

import "errors"

var (
	ErrInvalidKafkaConfig  = errors.New("invalid Kafka configuration provided")
	ErrPublishFailed       = errors.New("failed to publish analytics report")
	ErrStoreCreationFailed = errors.New("failed to create file store")
	ErrS3CreationFailed    = errors.New("failed to create s3 store")
	ErrPublisherCreation   = errors.New("failed to create publisher")
	ErrLoadFailed          = errors.New("failed to load database")
	ErrQueueFull           = errors.New("load queue is full")
	ErrServerRunFailed     = errors.New("http server failed")
	ErrWatcherRunFailed    = errors.New("directory watcher failed")
	ErrReporterRunFailed   = errors.New("reporter component failed")
)
