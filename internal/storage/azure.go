package storage

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/sirupsen/logrus"
)

const jsonContentType = "application/json"

// AzureStorage keeps weight snapshots in an Azure Blob Storage container
type AzureStorage struct {
	client    *azblob.Client
	container string
}

// Ensure AzureStorage implements BlobStore
var _ BlobStore = (*AzureStorage)(nil)

// NewAzureStorage connects with the default credential chain and creates the
// container when it does not exist yet.
func NewAzureStorage(ctx context.Context, accountName, container string) (*AzureStorage, error) {
	if accountName == "" {
		return nil, fmt.Errorf("storage account name is required")
	}
	if container == "" {
		return nil, fmt.Errorf("storage container name is required")
	}

	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	client, err := azblob.NewClient(fmt.Sprintf("https://%s.blob.core.windows.net/", accountName), credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
	}

	s := &AzureStorage{client: client, container: container}

	if _, err := s.client.CreateContainer(ctx, container, nil); err != nil {
		if !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			return nil, fmt.Errorf("failed to create container %s: %w", container, err)
		}
	} else {
		logrus.Infof("Created weight archive container %s", container)
	}

	return s, nil
}

// Store uploads a JSON document, replacing any blob with the same name
func (s *AzureStorage) Store(ctx context.Context, name string, data []byte) error {
	contentType := jsonContentType
	_, err := s.client.UploadBuffer(ctx, s.container, name, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return fmt.Errorf("%w: upload %s: %v", ErrStore, name, err)
	}

	logrus.Debugf("Archived %s (%d bytes)", name, len(data))
	return nil
}

// Retrieve downloads a blob. A missing blob yields ErrNotFound.
func (s *AzureStorage) Retrieve(ctx context.Context, name string) ([]byte, error) {
	response, err := s.client.DownloadStream(ctx, s.container, name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: download %s: %v", ErrStore, name, err)
	}
	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrStore, name, err)
	}
	return data, nil
}

// List returns the sorted blob names under prefix
func (s *AzureStorage) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: list %s: %v", ErrStore, prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				names = append(names, *item.Name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}
