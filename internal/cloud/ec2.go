// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cloud looks up EC2 instance metadata for nodes coming online.
package cloud

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	nherrors "github.com/tombee/nodehook/pkg/errors"
)

// DescribeInstancesAPI is the subset of the EC2 client the resolver uses.
type DescribeInstancesAPI interface {
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, opts ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// CallerIdentityAPI is the subset of the STS client the resolver uses.
type CallerIdentityAPI interface {
	GetCallerIdentity(ctx context.Context, in *sts.GetCallerIdentityInput, opts ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Instance holds the facts nodehook needs about one EC2 instance.
type Instance struct {
	ID        string
	PublicDNS string
	PublicIP  string
	PrivateIP string
	ImageID   string
	State     string
}

// Resolver answers instance lookups against EC2.
type Resolver struct {
	ec2 DescribeInstancesAPI
	sts CallerIdentityAPI
}

// New builds a resolver from the default AWS credential chain. An empty
// region defers to the chain (AWS_REGION, shared config).
func New(ctx context.Context, region string) (*Resolver, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, nherrors.Wrap(err, "failed to load AWS configuration")
	}
	return NewWithClients(ec2.NewFromConfig(awsCfg), sts.NewFromConfig(awsCfg)), nil
}

// NewWithClients builds a resolver from explicit clients.
func NewWithClients(ec2Client DescribeInstancesAPI, stsClient CallerIdentityAPI) *Resolver {
	return &Resolver{ec2: ec2Client, sts: stsClient}
}

// Describe returns the instance with the given id. An unknown id is a
// *errors.NotFoundError.
func (r *Resolver) Describe(ctx context.Context, instanceID string) (*Instance, error) {
	out, err := r.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, nherrors.Wrapf(err, "describe instance %s", instanceID)
	}

	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			if aws.ToString(inst.InstanceId) != instanceID {
				continue
			}
			i := &Instance{
				ID:        instanceID,
				PublicDNS: aws.ToString(inst.PublicDnsName),
				PublicIP:  aws.ToString(inst.PublicIpAddress),
				PrivateIP: aws.ToString(inst.PrivateIpAddress),
				ImageID:   aws.ToString(inst.ImageId),
			}
			if inst.State != nil {
				i.State = string(inst.State.Name)
			}
			return i, nil
		}
	}
	return nil, &nherrors.NotFoundError{Resource: "instance", ID: instanceID}
}

// validateTimeout bounds the STS call made by Validate.
const validateTimeout = 5 * time.Second

// Validate checks the credentials with STS GetCallerIdentity and returns
// the caller's ARN.
func (r *Resolver) Validate(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	out, err := r.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if nherrors.Is(err, context.DeadlineExceeded) {
		return "", &nherrors.TimeoutError{Operation: "AWS credential validation", Duration: validateTimeout, Cause: err}
	}
	if err != nil {
		return "", nherrors.Wrap(err, "AWS credential validation failed")
	}
	return aws.ToString(out.Arn), nil
}
