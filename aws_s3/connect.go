package aws_s3

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config locates the S3 compatible endpoint and the bucket holding the objects.
type Config struct {
	// "http://127.0.0.1:9000"
	HostEndpointUrl string `json:"host_endpoint_url" toml:"host_endpoint_url"`
	// "us-east-1"
	Region   string `json:"region" toml:"region"`
	Username string `json:"username" toml:"username"`
	Password string `json:"-" toml:"-"`
	Bucket   string `json:"bucket" toml:"bucket"`
	// Prefix namespaces the keys of one database inside the bucket.
	Prefix string `json:"prefix" toml:"prefix"`
	// MaxConcurrency caps the parallel requests of one batch.
	MaxConcurrency int `json:"max_concurrency" toml:"max_concurrency"`
}

// Connect to an S3 compatible endpoint, e.g. a minio server.
func Connect(config Config) *s3.Client {
	return s3.NewFromConfig(aws.Config{Region: config.Region}, func(o *s3.Options) {
		if config.HostEndpointUrl != "" {
			o.BaseEndpoint = aws.String(config.HostEndpointUrl)
			// minio serves buckets by path, not by virtual host.
			o.UsePathStyle = true
		}
		o.Credentials = credentials.NewStaticCredentialsProvider(config.Username, config.Password, "")
	})
}
