package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// AWS implements Provider for EC2 instances.
type AWS struct {
	accessKeyID     string
	secretAccessKey string
	logger          *slog.Logger
}

// NewAWS creates an AWS provider. Clients are built per region because
// the target region arrives with each request.
func NewAWS(accessKeyID, secretAccessKey string, logger *slog.Logger) *AWS {
	if logger == nil {
		logger = slog.Default()
	}
	return &AWS{
		accessKeyID:     accessKeyID,
		secretAccessKey: secretAccessKey,
		logger:          logger.With("provider", "aws"),
	}
}

func (p *AWS) clientFor(region string) *ec2.Client {
	return ec2.New(ec2.Options{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(p.accessKeyID, p.secretAccessKey, ""),
	})
}

// CreateServer launches an EC2 instance.
func (p *AWS) CreateServer(ctx context.Context, req BootstrapRequest) (*BootstrapResult, error) {
	client := p.clientFor(req.Region)

	// Replacing an existing key of the same name keeps retries idempotent.
	name := keyName(req.Name)
	_, _ = client.DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{
		KeyName: aws.String(name),
	})
	if _, err := client.ImportKeyPair(ctx, &ec2.ImportKeyPairInput{
		KeyName:           aws.String(name),
		PublicKeyMaterial: []byte(req.SSHPublicKey),
	}); err != nil {
		return nil, fmt.Errorf("import key pair: %w", err)
	}

	groupID, err := p.ensureSecurityGroup(ctx, client, name)
	if err != nil {
		return nil, err
	}

	imageID, err := p.latestUbuntuAMI(ctx, client)
	if err != nil {
		return nil, err
	}

	runOut, err := client.RunInstances(ctx, &ec2.RunInstancesInput{
		ImageId:          aws.String(imageID),
		InstanceType:     types.InstanceType(req.Size),
		MinCount:         aws.Int32(1),
		MaxCount:         aws.Int32(1),
		KeyName:          aws.String(name),
		SecurityGroupIds: []string{groupID},
		UserData:         aws.String(base64.StdEncoding.EncodeToString([]byte(bootstrapScript()))),
		TagSpecifications: []types.TagSpecification{
			{
				ResourceType: types.ResourceTypeInstance,
				Tags: []types.Tag{
					{Key: aws.String("Name"), Value: aws.String(req.Name)},
					{Key: aws.String("managed-by"), Value: aws.String("dockhand")},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("run instance: %w", err)
	}
	if len(runOut.Instances) == 0 {
		return nil, errors.New("run instance returned no instances")
	}
	instanceID := aws.ToString(runOut.Instances[0].InstanceId)
	p.logger.Info("instance launched", "instance_id", instanceID, "region", req.Region)

	publicIP, err := p.waitForPublicIP(ctx, client, instanceID)
	if err != nil {
		return nil, fmt.Errorf("wait for public IP: %w", err)
	}

	return &BootstrapResult{
		InstanceID: instanceID,
		PublicIP:   publicIP,
	}, nil
}

// ensureSecurityGroup creates a group allowing SSH and web traffic,
// reusing an existing group of the same name.
func (p *AWS) ensureSecurityGroup(ctx context.Context, client *ec2.Client, name string) (string, error) {
	existing, err := client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []types.Filter{
			{Name: aws.String("group-name"), Values: []string{name}},
		},
	})
	if err == nil && len(existing.SecurityGroups) > 0 {
		return aws.ToString(existing.SecurityGroups[0].GroupId), nil
	}

	created, err := client.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(name),
		Description: aws.String("dockhand managed host"),
	})
	if err != nil {
		return "", fmt.Errorf("create security group: %w", err)
	}
	groupID := aws.ToString(created.GroupId)

	var permissions []types.IpPermission
	for _, port := range []int32{22, 80, 443} {
		permissions = append(permissions, types.IpPermission{
			IpProtocol: aws.String("tcp"),
			FromPort:   aws.Int32(port),
			ToPort:     aws.Int32(port),
			IpRanges: []types.IpRange{
				{CidrIp: aws.String("0.0.0.0/0")},
			},
		})
	}
	if _, err := client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:       aws.String(groupID),
		IpPermissions: permissions,
	}); err != nil {
		return "", fmt.Errorf("authorize ingress: %w", err)
	}
	return groupID, nil
}

// latestUbuntuAMI finds the newest Canonical Ubuntu 24.04 image.
func (p *AWS) latestUbuntuAMI(ctx context.Context, client *ec2.Client) (string, error) {
	out, err := client.DescribeImages(ctx, &ec2.DescribeImagesInput{
		Owners: []string{"099720109477"},
		Filters: []types.Filter{
			{Name: aws.String("name"), Values: []string{"ubuntu/images/hvm-ssd-gp3/ubuntu-noble-24.04-amd64-server-*"}},
			{Name: aws.String("state"), Values: []string{"available"}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("describe images: %w", err)
	}
	if len(out.Images) == 0 {
		return "", errors.New("no Ubuntu AMI found")
	}
	latest := out.Images[0]
	for _, img := range out.Images[1:] {
		if aws.ToString(img.CreationDate) > aws.ToString(latest.CreationDate) {
			latest = img
		}
	}
	return aws.ToString(latest.ImageId), nil
}

func (p *AWS) waitForPublicIP(ctx context.Context, client *ec2.Client, instanceID string) (string, error) {
	for i := 0; i < 60; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
		}

		out, err := client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			InstanceIds: []string{instanceID},
		})
		if err != nil {
			continue
		}
		for _, res := range out.Reservations {
			for _, inst := range res.Instances {
				if inst.State != nil && inst.State.Name == types.InstanceStateNameRunning {
					if ip := aws.ToString(inst.PublicIpAddress); ip != "" {
						return ip, nil
					}
				}
			}
		}
	}
	return "", errors.New("timed out waiting for instance public IP")
}

// DestroyServer terminates the instance and removes its key pair and
// security group.
func (p *AWS) DestroyServer(ctx context.Context, req DestroyRequest) error {
	client := p.clientFor(req.Region)

	if _, err := client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{req.InstanceID},
	}); err != nil {
		return fmt.Errorf("terminate instance: %w", err)
	}
	p.logger.Info("instance terminated", "instance_id", req.InstanceID)

	name := keyName(req.Name)
	if _, err := client.DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{
		KeyName: aws.String(name),
	}); err != nil {
		p.logger.Warn("could not delete key pair", "key", name, "error", err)
	}

	// The group stays attached until the instance is fully terminated,
	// so deletion may need a few attempts.
	for i := 0; i < 24; i++ {
		_, err := client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
			GroupName: aws.String(name),
		})
		if err == nil || strings.Contains(err.Error(), "NotFound") {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
	p.logger.Warn("could not delete security group", "group", name)
	return nil
}
