package main

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

type CloudConfig struct {
	cfg     aws.Config
	region  string
	profile string
}

type Option func(*CloudConfig)

func withRegion(region string) Option {
	return func(cc *CloudConfig) {
		cc.region = region
	}
}

func withProfile(profile string) Option {
	return func(cc *CloudConfig) {
		cc.profile = profile
	}
}

func mustInitConfig(opts ...Option) *CloudConfig {
	cc := &CloudConfig{}

	for _, opt := range opts {
		opt(cc)
	}

	cfg, err := config.LoadDefaultConfig(
		context.Background(),
		config.WithSharedConfigProfile(cc.profile),
		config.WithRegion(cc.region),
	)
	if err != nil {
		panic(err)
	}

	cc.cfg = cfg
	return cc
}

func (c *CloudConfig) stablishClientWith(opts ...ResourceOpt) *ResourceConfig {
	rc := &ResourceConfig{}

	for _, opt := range opts {
		opt(rc)
	}

	return rc
}

type ResourceConfig struct {
	ecr *ecr.Client
	sts *sts.Client
}

type ResourceOpt func(*ResourceConfig)

func ecrService(cfg aws.Config) ResourceOpt {
	return func(rc *ResourceConfig) {
		rc.ecr = ecr.NewFromConfig(cfg)
	}
}

func stsService(cfg aws.Config) ResourceOpt {
	return func(rc *ResourceConfig) {
		rc.sts = sts.NewFromConfig(cfg)
	}
}
