package aws

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
)

// EC2API is the subset of the EC2 client used for instance lifecycle
type EC2API interface {
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	DescribeImages(ctx context.Context, params *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
}

// PricingAPI is the subset of the Pricing client used for price lookups
type PricingAPI interface {
	GetProducts(ctx context.Context, params *pricing.GetProductsInput, optFns ...func(*pricing.Options)) (*pricing.GetProductsOutput, error)
}

// InstanceSpec is the fixed shape of every worker instance
type InstanceSpec struct {
	Region           string
	MachineType      string
	ImageID          string // used as-is when set
	ImageNamePattern string // otherwise the newest image matching this name
	ImageOwner       string
	DiskSizeGB       int
	InstanceProfile  string
	SubnetID         string
	SecurityGroupIDs []string
	Bucket           string
	WorkloadCommand  string
	SpotMaxPrice     string // "", a USD price, or "on-demand"
	CreateTimeout    time.Duration
}

// Client is the AWS compute lifecycle client
type Client struct {
	ec2Client     EC2API
	pricingClient PricingAPI
	spec          InstanceSpec

	mu      sync.Mutex
	imageID string
	prices  map[string]string
}

// LoadConfig loads the default AWS configuration for region
func LoadConfig(ctx context.Context, region string) (aws.Config, error) {
	return config.LoadDefaultConfig(ctx, config.WithRegion(region))
}

// NewClient creates a new AWS client.
// The Pricing API is only served from us-east-1.
func NewClient(cfg aws.Config, spec InstanceSpec) *Client {
	return NewClientWithAPIs(
		ec2.NewFromConfig(cfg),
		pricing.NewFromConfig(cfg, func(o *pricing.Options) {
			o.Region = "us-east-1"
		}),
		spec,
	)
}

// NewClientWithAPIs creates a client over explicit service APIs
func NewClientWithAPIs(ec2Client EC2API, pricingClient PricingAPI, spec InstanceSpec) *Client {
	if spec.CreateTimeout <= 0 {
		spec.CreateTimeout = 5 * time.Minute
	}
	return &Client{
		ec2Client:     ec2Client,
		pricingClient: pricingClient,
		spec:          spec,
		prices:        make(map[string]string),
	}
}
