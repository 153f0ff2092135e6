package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
)

// ecrAPI is the slice of the ECR client the migration needs. The paginator
// interfaces come from the SDK so the client can be faked in tests.
type ecrAPI interface {
	ecr.DescribeRepositoriesAPIClient
	ecr.ListImagesAPIClient
	GetAuthorizationToken(ctx context.Context, params *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
}

type ECR struct {
	ecr ecrAPI
	ctx context.Context
}

func newEcr(ecr ecrAPI) *ECR {
	return &ECR{
		ecr: ecr,
		ctx: context.Background(),
	}
}

type metadataList struct {
	auth        authorization
	repoList    []repositoryMetadata
	imagesCount int
}

type repositoryMetadata struct {
	repositoryURI  string
	repositoryName string
	tags           []string
}

func (e *ECR) listRepositories() []repositoryMetadata {
	var repositories []repositoryMetadata

	paginator := ecr.NewDescribeRepositoriesPaginator(e.ecr, &ecr.DescribeRepositoriesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(e.ctx)
		if err != nil {
			panic(err)
		}

		for _, repo := range page.Repositories {
			repositories = append(repositories, repositoryMetadata{
				repositoryName: *repo.RepositoryName,
				repositoryURI:  *repo.RepositoryUri,
			})
		}
	}

	return repositories
}

func (e *ECR) listTags(repository string) ([]string, error) {
	var tags []string

	paginator := ecr.NewListImagesPaginator(e.ecr, &ecr.ListImagesInput{
		RepositoryName: aws.String(repository),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(e.ctx)
		if err != nil {
			return nil, err
		}

		for _, image := range page.ImageIds {
			// untagged images are only addressable by digest, skip them
			if image.ImageTag == nil || *image.ImageTag == "" {
				continue
			}
			tags = append(tags, *image.ImageTag)
			slog.Info("ecrListing", "repository", repository, "tag", *image.ImageTag)
		}
	}

	return tags, nil
}

type authorization struct {
	username string
	password string
}

func (e *ECR) authenticate() (authorization, error) {
	authOutput, err := e.ecr.GetAuthorizationToken(e.ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return authorization{}, err
	}

	if len(authOutput.AuthorizationData) == 0 {
		return authorization{}, fmt.Errorf("no authorizationData found in the response")
	}

	authData := authOutput.AuthorizationData[0]
	token, err := base64.StdEncoding.DecodeString(*authData.AuthorizationToken)
	if err != nil {
		return authorization{}, fmt.Errorf("decoding auth token not possible")
	}

	auth := strings.SplitN(string(token), ":", 2)
	if len(auth) != 2 {
		return authorization{}, fmt.Errorf("malformed authorization token")
	}

	return authorization{
		username: auth[0],
		password: auth[1],
	}, nil
}

// walk enumerates every repository visible to the client, keeps the ones the
// filter allows and collects their tags. A repository whose tags cannot be
// listed is skipped, everything else is fatal.
func (e *ECR) walk(filter *repositoryFilter) metadataList {
	auth, err := e.authenticate()
	if err != nil {
		panic(err)
	}

	metadata := metadataList{
		auth: auth,
	}

	counter := 0
	for _, repository := range e.listRepositories() {
		if !filter.allows(repository.repositoryName) {
			continue
		}

		tags, err := e.listTags(repository.repositoryName)
		if err != nil {
			slog.Error("listing ecr images", "error", err, "repository", repository.repositoryName)
			continue
		}

		repository.tags = tags
		counter += len(tags)
		metadata.repoList = append(metadata.repoList, repository)
	}

	metadata.imagesCount = counter
	return metadata
}
