package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
)

// dockerAPI is the slice of the daemon client the migration needs,
// satisfied by *client.Client.
type dockerAPI interface {
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ImageTag(ctx context.Context, source, target string) error
	ImagePush(ctx context.Context, image string, options image.PushOptions) (io.ReadCloser, error)
	ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	RegistryLogin(ctx context.Context, auth registry.AuthConfig) (registry.AuthenticateOKBody, error)
}

type Docker struct {
	ctx      context.Context
	cli      dockerAPI
	settings *Settings
	data     metadataList
	verify   verifyFunc
	migrated int
	failed   int
}

func newDocker() *Docker {
	return &Docker{
		ctx:    context.Background(),
		verify: remoteVerify,
	}
}

func (d *Docker) mustStartCli() *Docker {
	cli, err := client.NewClientWithOpts()
	if err != nil {
		panic(err)
	}
	d.cli = cli
	return d
}

func (d *Docker) withSettings(settings *Settings) *Docker {
	d.settings = settings
	return d
}

func (d *Docker) addMetadataList(metadataList metadataList) *Docker {
	d.data = metadataList
	return d
}

// mustLoginTarget validates the destination credentials before any image
// moves. Bad credentials abort the run instead of failing every push.
func (d *Docker) mustLoginTarget() {
	_, err := d.cli.RegistryLogin(d.ctx, registry.AuthConfig{
		Username:      d.settings.registryUser,
		Password:      d.settings.registryPassword,
		ServerAddress: d.settings.registryURL,
	})
	if err != nil {
		panic(err)
	}
	slog.Info("registryLogin", "registry", d.settings.registryURL, "status", "succeeded")
}

// migrate moves every collected image, one at a time. A failing image is
// logged and skipped, the loop always reaches the remaining tags.
func (d *Docker) migrate() *Docker {
	d.mustLoginTarget()

	auth := d.authorize(d.data.auth)
	authTarget := d.authorize(authorization{
		username: d.settings.registryUser,
		password: d.settings.registryPassword,
	})

	for _, metadata := range d.data.repoList {
		for _, tag := range metadata.tags {
			from, to := generateImageNames(d.settings, metadata, tag)

			if err := d.transfer(auth, authTarget, from, to); err != nil {
				slog.Error("imageMigration", "repository", metadata.repositoryName, "tag", tag, "error", err)
				d.failed++
				continue
			}
			d.migrated++
		}
	}

	slog.Info("migrate", "images", d.data.imagesCount, "migrated", d.migrated, "failed", d.failed)
	return d
}

func (d *Docker) transfer(auth, authTarget, from, to string) error {
	if err := d.pull(auth, downloadImage{name: from}); err != nil {
		return err
	}

	if err := d.rename(from, to); err != nil {
		return err
	}

	if err := d.push(authTarget, uploadImage{name: to}); err != nil {
		return err
	}

	if d.verify != nil {
		if err := d.verify(to, authorization{
			username: d.settings.registryUser,
			password: d.settings.registryPassword,
		}); err != nil {
			slog.Error("imageVerification", "image", to, "error", err)
		} else {
			slog.Info("imageVerification", "image", to, "status", "present")
		}
	}

	d.cleanup(from)
	d.cleanup(to)
	return nil
}

// generateImageNames derives the source-qualified and the re-prefixed
// destination-qualified names for one tag.
func generateImageNames(settings *Settings, metadata repositoryMetadata, tag string) (imageSource, imageTarget string) {
	imageSource = fmt.Sprintf("%s:%s", metadata.repositoryURI, tag)
	imageTarget = fmt.Sprintf("%s/%s/%s:%s", settings.registryURL, settings.tagPrefix, metadata.repositoryName, tag)
	return imageSource, imageTarget
}

type downloadImage struct {
	name string
}

func (d *Docker) pull(auth string, img downloadImage) error {
	out, err := d.cli.ImagePull(d.ctx, img.name, image.PullOptions{
		RegistryAuth: auth,
	})

	if err != nil {
		return err
	}

	defer out.Close()
	io.Copy(io.Discard, out)
	slog.Info("imagePulling", "image", img.name, "status", "pulled")
	return nil
}

type uploadImage struct {
	name string
}

func (d *Docker) push(auth string, upload uploadImage) error {
	out, err := d.cli.ImagePush(d.ctx, upload.name, image.PushOptions{
		RegistryAuth: auth,
	})
	if err != nil {
		return err
	}

	defer out.Close()
	io.Copy(io.Discard, out)
	slog.Info("imagePushing", "image", upload.name, "status", "pushed")
	return nil
}

func (d *Docker) rename(from, to string) error {
	err := d.cli.ImageTag(d.ctx, from, to)
	if err != nil {
		return err
	}

	slog.Info("renaming", "from", from, "to", to)
	return err
}

// cleanup removes the local copy of an image unless a container still
// references it. Removal failures are logged, never fatal.
func (d *Docker) cleanup(img string) {
	containers, err := d.inUseBy(img)
	if err != nil {
		slog.Error("imageRemoval", "image", img, "error", err)
		return
	}

	if len(containers) > 0 {
		slog.Info("imageRemoval", "image", img, "status", "in use", "containers", strings.Join(containers, ","))
		return
	}

	if _, err := d.cli.ImageRemove(d.ctx, img, image.RemoveOptions{}); err != nil {
		slog.Error("imageRemoval", "image", img, "error", err)
		return
	}

	slog.Info("imageRemoval", "image", img, "status", "removed")
}

func (d *Docker) inUseBy(img string) ([]string, error) {
	list, err := d.cli.ContainerList(d.ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("ancestor", img)),
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(list))
	for i, c := range list {
		ids[i] = c.ID
	}
	return ids, nil
}

func (d *Docker) authorize(auth authorization) string {
	authConfig := registry.AuthConfig{
		Username: auth.username,
		Password: auth.password,
	}

	encondedJSON, err := json.Marshal(authConfig)
	if err != nil {
		panic(err)
	}

	return base64.URLEncoding.EncodeToString(encondedJSON)
}
