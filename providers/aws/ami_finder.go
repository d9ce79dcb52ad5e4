package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// resolveImage returns the base image every worker boots from.
// The first successful resolution is cached for the life of the client.
func (c *Client) resolveImage(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.imageID
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var ami string
	if c.spec.ImageID != "" {
		ok, err := c.verifyAMI(ctx, c.spec.ImageID)
		if err != nil {
			return "", fmt.Errorf("failed to verify AMI %s: %w", c.spec.ImageID, err)
		}
		if !ok {
			return "", fmt.Errorf("AMI %s is not available", c.spec.ImageID)
		}
		ami = c.spec.ImageID
	} else {
		found, err := c.findLatestAMI(ctx)
		if err != nil {
			return "", err
		}
		ami = found
	}

	c.mu.Lock()
	c.imageID = ami
	c.mu.Unlock()
	return ami, nil
}

// findLatestAMI finds the newest available image matching the configured name pattern
func (c *Client) findLatestAMI(ctx context.Context) (string, error) {
	if c.spec.ImageNamePattern == "" {
		return "", fmt.Errorf("neither image id nor image name pattern configured")
	}

	input := &ec2.DescribeImagesInput{
		Filters: []types.Filter{
			{
				Name:   aws.String("name"),
				Values: []string{c.spec.ImageNamePattern},
			},
			{
				Name:   aws.String("state"),
				Values: []string{"available"},
			},
		},
	}
	if c.spec.ImageOwner != "" {
		input.Owners = []string{c.spec.ImageOwner}
	}

	result, err := c.ec2Client.DescribeImages(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to describe images: %w", err)
	}

	var latest types.Image
	for _, image := range result.Images {
		// CreationDate is ISO 8601, so lexical order is chronological
		if aws.ToString(image.CreationDate) > aws.ToString(latest.CreationDate) {
			latest = image
		}
	}
	if latest.ImageId == nil {
		return "", fmt.Errorf("no AMI found matching %q", c.spec.ImageNamePattern)
	}
	return *latest.ImageId, nil
}

// verifyAMI verifies that an AMI exists and is available
func (c *Client) verifyAMI(ctx context.Context, amiID string) (bool, error) {
	input := &ec2.DescribeImagesInput{
		ImageIds: []string{amiID},
		Filters: []types.Filter{
			{
				Name:   aws.String("state"),
				Values: []string{"available"},
			},
		},
	}

	result, err := c.ec2Client.DescribeImages(ctx, input)
	if err != nil {
		return false, err
	}

	return len(result.Images) > 0, nil
}
