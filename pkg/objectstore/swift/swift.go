// Package swift implements objectstore.Client against an OpenStack
// Swift-compatible object store via gophercloud.
package swift

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack/objectstorage/v1/containers"
	"github.com/gophercloud/gophercloud/openstack/objectstorage/v1/objects"
	"github.com/gophercloud/gophercloud/pagination"
	"github.com/gophercloud/utils/openstack/clientconfig"

	"github.com/ottervault/backup/internal/errors"
	"github.com/ottervault/backup/pkg/objectstore"
)

// listPageSize is the number of objects requested per listing page.
const listPageSize = 100

// Options selects the cloud profile and container a Client talks to.
type Options struct {
	// Cloud is the clouds.yaml profile name (defaults to "openstack").
	Cloud string
	// CloudsYAMLPath optionally overrides the default clouds.yaml search path.
	CloudsYAMLPath string
	// Region, if set, pins the object-store endpoint to a specific region.
	Region string
	// Container is the Swift container this Client reads and writes.
	Container string
}

// Client is an objectstore.Client backed by a Swift container.
type Client struct {
	service   *gophercloud.ServiceClient
	container string
}

// New builds a Client for opts.Container, authenticating via clouds.yaml
// the way gophercloud/utils resolves it for any OpenStack service.
func New(opts Options) (*Client, error) {
	cloud := opts.Cloud
	if cloud == "" {
		cloud = "openstack"
	}

	if opts.CloudsYAMLPath != "" {
		os.Setenv("OS_CLIENT_CONFIG_FILE", opts.CloudsYAMLPath)
	}

	clientOpts := &clientconfig.ClientOpts{
		Cloud: cloud,
	}
	if opts.Region != "" {
		clientOpts.RegionName = opts.Region
	}

	service, err := clientconfig.NewServiceClient("object-store", clientOpts)
	if err != nil {
		return nil, errors.Remote(opts.Container, fmt.Errorf("creating object-store client: %w", err))
	}

	c := &Client{service: service, container: opts.Container}

	if _, err := containers.Create(c.service, opts.Container, containers.CreateOpts{}).Extract(); err != nil {
		return nil, errors.Remote(opts.Container, fmt.Errorf("ensuring container exists: %w", err))
	}

	return c, nil
}

// Put uploads r under key, overwriting any existing object.
func (c *Client) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	return c.PutWithProgress(ctx, key, r, size, nil)
}

// PutWithProgress uploads r under key exactly like Put, additionally
// invoking onBytes after each chunk is handed to the HTTP client.
//
// gophercloud v1's object-storage calls take no per-request context
// argument (that arrived with gophercloud v2); ctx is checked up front so a
// caller whose context is already done does not issue the request at all.
func (c *Client) PutWithProgress(ctx context.Context, key string, r io.Reader, size int64, onBytes func(n int64)) error {
	if err := ctx.Err(); err != nil {
		return errors.Remote(key, err)
	}

	body := io.Reader(r)
	if onBytes != nil {
		body = objectstore.NewProgressReader(r, onBytes)
	}

	opts := objects.CreateOpts{Content: body}
	if size >= 0 {
		opts.ContentLength = size
	}

	result := objects.Create(c.service, c.container, key, opts)
	if result.Err != nil {
		return errors.Remote(key, result.Err)
	}
	return nil
}

// Get downloads the object at key into w.
func (c *Client) Get(ctx context.Context, key string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return errors.Remote(key, err)
	}

	result := objects.Download(c.service, c.container, key, objects.DownloadOpts{})
	if result.Err != nil {
		var notFound gophercloud.ErrDefault404
		if stderrors.As(result.Err, &notFound) {
			return errors.Remote(key, fmt.Errorf("%w", objectstore.ErrNotFound))
		}
		return errors.Remote(key, result.Err)
	}
	defer result.Body.Close()

	if _, err := io.Copy(w, result.Body); err != nil {
		return errors.Remote(key, err)
	}
	return nil
}

// List returns every object in the container whose key begins with prefix,
// paging through the listing listPageSize entries at a time using the
// previous page's last object name as the next page's marker.
func (c *Client) List(ctx context.Context, prefix string) ([]objectstore.ObjectEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Remote(prefix, err)
	}

	var all []objectstore.ObjectEntry
	marker := ""

	for {
		opts := objects.ListOpts{
			Full:   true,
			Prefix: prefix,
			Limit:  listPageSize,
			Marker: marker,
		}

		pager := objects.List(c.service, c.container, opts)

		var page []objects.Object
		err := pager.EachPage(func(p pagination.Page) (bool, error) {
			extracted, err := objects.ExtractInfo(p)
			if err != nil {
				return false, err
			}
			page = extracted
			// Stop after one page; the outer loop advances the marker.
			return false, nil
		})
		if err != nil {
			return nil, errors.Remote(prefix, err)
		}

		if len(page) == 0 {
			break
		}

		for _, o := range page {
			all = append(all, objectstore.ObjectEntry{
				Name:         o.Name,
				Hash:         o.Hash,
				Bytes:        int64(o.Bytes),
				LastModified: o.LastModified.Format(time.RFC3339),
			})
		}

		marker = page[len(page)-1].Name
		if len(page) < listPageSize {
			break
		}
	}

	return all, nil
}
