package aws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spot-orchestrator/core/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
)

const managedByTag = "spot-orchestrator"

// Create launches a one-time spot instance named name and blocks until EC2
// reports that it exists. A preempted instance is terminated, never stopped
// or restarted, so its disappearance is an unambiguous signal.
func (c *Client) Create(ctx context.Context, name string, bootstrap models.Bootstrap) error {
	input, err := c.buildRunInstancesInput(ctx, name, bootstrap)
	if err != nil {
		return err
	}

	result, err := c.ec2Client.RunInstances(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to run instance %s: %w", name, err)
	}
	if len(result.Instances) == 0 || result.Instances[0].InstanceId == nil {
		return fmt.Errorf("run instance %s returned no instance", name)
	}

	waiter := ec2.NewInstanceExistsWaiter(c.ec2Client, func(o *ec2.InstanceExistsWaiterOptions) {
		o.MinDelay = 2 * time.Second
		o.MaxDelay = 10 * time.Second
	})
	err = waiter.Wait(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{*result.Instances[0].InstanceId},
	}, c.spec.CreateTimeout)
	if err != nil {
		return fmt.Errorf("instance %s did not come up: %w", name, err)
	}
	return nil
}

func (c *Client) buildRunInstancesInput(ctx context.Context, name string, bootstrap models.Bootstrap) (*ec2.RunInstancesInput, error) {
	amiID, err := c.resolveImage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve AMI: %w", err)
	}

	userData, err := renderBootstrap(c.spec.Bucket, c.spec.WorkloadCommand, bootstrap)
	if err != nil {
		return nil, fmt.Errorf("failed to render bootstrap: %w", err)
	}

	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(amiID),
		InstanceType: types.InstanceType(c.spec.MachineType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		// Same token for a re-issued create, so a resumed task cannot launch a twin
		ClientToken:                       aws.String(name),
		UserData:                          aws.String(userData),
		InstanceInitiatedShutdownBehavior: types.ShutdownBehaviorTerminate,
		InstanceMarketOptions: &types.InstanceMarketOptionsRequest{
			MarketType: types.MarketTypeSpot,
			SpotOptions: &types.SpotMarketOptions{
				SpotInstanceType:             types.SpotInstanceTypeOneTime,
				InstanceInterruptionBehavior: types.InstanceInterruptionBehaviorTerminate,
			},
		},
		BlockDeviceMappings: []types.BlockDeviceMapping{
			{
				DeviceName: aws.String("/dev/sda1"),
				Ebs: &types.EbsBlockDevice{
					VolumeSize:          aws.Int32(int32(c.spec.DiskSizeGB)),
					VolumeType:          types.VolumeTypeGp3,
					DeleteOnTermination: aws.Bool(true),
				},
			},
		},
		TagSpecifications: []types.TagSpecification{
			{
				ResourceType: types.ResourceTypeInstance,
				Tags: []types.Tag{
					{
						Key:   aws.String("Name"),
						Value: aws.String(name),
					},
					{
						Key:   aws.String("ManagedBy"),
						Value: aws.String(managedByTag),
					},
				},
			},
		},
	}

	if c.spec.InstanceProfile != "" {
		input.IamInstanceProfile = &types.IamInstanceProfileSpecification{
			Name: aws.String(c.spec.InstanceProfile),
		}
	}
	if c.spec.SubnetID != "" {
		input.SubnetId = aws.String(c.spec.SubnetID)
	}
	if len(c.spec.SecurityGroupIDs) > 0 {
		input.SecurityGroupIds = c.spec.SecurityGroupIDs
	}

	maxPrice, err := c.spotMaxPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to determine spot max price: %w", err)
	}
	if maxPrice != "" {
		input.InstanceMarketOptions.SpotOptions.MaxPrice = aws.String(maxPrice)
	}

	return input, nil
}

// Status reports whether the named instance exists and its phase.
// Not-found and access errors both report Exists=false.
func (c *Client) Status(ctx context.Context, name string) (models.InstanceStatus, error) {
	instances, err := c.describeByName(ctx, name, nil)
	if err != nil {
		if isNotVisible(err) {
			return models.InstanceStatus{Exists: false}, nil
		}
		return models.InstanceStatus{}, err
	}
	if len(instances) == 0 {
		return models.InstanceStatus{Exists: false}, nil
	}

	// Prefer a live instance over a terminated one still listed by EC2
	best := instances[0]
	for _, inst := range instances[1:] {
		if phaseOf(best) == models.InstancePhaseTerminated && phaseOf(inst) != models.InstancePhaseTerminated {
			best = inst
		}
	}

	return models.InstanceStatus{
		Exists: true,
		Phase:  phaseOf(best),
	}, nil
}

// Delete terminates every live instance carrying name.
// An instance that no longer exists is not an error.
func (c *Client) Delete(ctx context.Context, name string) error {
	instances, err := c.describeByName(ctx, name, []string{
		string(types.InstanceStateNamePending),
		string(types.InstanceStateNameRunning),
		string(types.InstanceStateNameStopping),
		string(types.InstanceStateNameStopped),
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to describe instance %s: %w", name, err)
	}

	var ids []string
	for _, inst := range instances {
		if inst.InstanceId != nil {
			ids = append(ids, *inst.InstanceId)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	_, err = c.ec2Client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: ids,
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to terminate instance %s: %w", name, err)
	}
	return nil
}

func (c *Client) describeByName(ctx context.Context, name string, states []string) ([]types.Instance, error) {
	filters := []types.Filter{
		{
			Name:   aws.String("tag:Name"),
			Values: []string{name},
		},
		{
			Name:   aws.String("tag:ManagedBy"),
			Values: []string{managedByTag},
		},
	}
	if len(states) > 0 {
		filters = append(filters, types.Filter{
			Name:   aws.String("instance-state-name"),
			Values: states,
		})
	}

	var instances []types.Instance
	paginator := ec2.NewDescribeInstancesPaginator(c.ec2Client, &ec2.DescribeInstancesInput{
		Filters: filters,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, reservation := range page.Reservations {
			instances = append(instances, reservation.Instances...)
		}
	}
	return instances, nil
}

func phaseOf(inst types.Instance) models.InstancePhase {
	if inst.State == nil {
		return models.InstancePhaseProvisioning
	}
	switch inst.State.Name {
	case types.InstanceStateNamePending:
		return models.InstancePhaseProvisioning
	case types.InstanceStateNameRunning:
		return models.InstancePhaseRunning
	default:
		// shutting-down, terminated, stopping, stopped
		return models.InstancePhaseTerminated
	}
}

func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func isNotFound(err error) bool {
	switch errorCode(err) {
	case "InvalidInstanceID.NotFound", "InvalidInstanceID.Malformed":
		return true
	}
	return false
}

// isNotVisible treats access errors like absence; see DESIGN.md
func isNotVisible(err error) bool {
	if isNotFound(err) {
		return true
	}
	switch errorCode(err) {
	case "UnauthorizedOperation", "AuthFailure":
		return true
	}
	return false
}
