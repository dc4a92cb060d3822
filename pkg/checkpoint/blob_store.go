package checkpoint

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/yourorg/go-sblite/pkg/errors"
	"github.com/yourorg/go-sblite/pkg/logging"
	"github.com/yourorg/go-sblite/pkg/utils"
)

var errBlobNotFound = stderrors.New("blob not found")

// blobAPI is the slice of Blob Storage the store needs.
type blobAPI interface {
	createContainer(ctx context.Context, container string) error
	upload(ctx context.Context, container, name string, data []byte) error
	download(ctx context.Context, container, name string) ([]byte, error)
}

// BlobStore keeps one JSON blob per partition in an Azure Storage container.
type BlobStore struct {
	api       blobAPI
	container string
	retry     utils.RetryConfig
	logger    logging.Logger
}

// NewBlobStore connects to the account's blob service. Without an account
// key the default Azure credential chain is used.
func NewBlobStore(accountName, accountKey, container string, logger logging.Logger) (*BlobStore, error) {
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", accountName)

	var client *azblob.Client
	if accountKey == "" {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure credential: %w", err)
		}
		client, err = azblob.NewClient(serviceURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
		}
	} else {
		cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create shared key credential: %w", err)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
		}
	}

	return newBlobStore(&azblobAPI{client: client}, container, logger), nil
}

func newBlobStore(api blobAPI, container string, logger logging.Logger) *BlobStore {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	retry := utils.DefaultRetryConfig()
	retry.ShouldRetry = func(err error) bool {
		return !errors.HasCode(err, errors.ErrorCodeValidation)
	}
	return &BlobStore{api: api, container: container, retry: retry, logger: logger}
}

// EnsureContainer creates the container if it does not exist.
func (b *BlobStore) EnsureContainer(ctx context.Context) error {
	if err := b.api.createContainer(ctx, b.container); err != nil {
		return fmt.Errorf("failed to create checkpoint container: %w", err)
	}
	return nil
}

// GetCheckpoint reads the partition's blob.
func (b *BlobStore) GetCheckpoint(ctx context.Context, key Key) (*Checkpoint, error) {
	data, err := b.api.download(ctx, b.container, key.String())
	if stderrors.Is(err, errBlobNotFound) {
		return nil, errors.NewNotFoundError("no checkpoint for " + key.String())
	}
	if err != nil {
		b.logger.Error("Failed to read checkpoint",
			logging.NewField("operation", "checkpoint.get"),
			logging.NewField("blob", key.String()),
			logging.NewField("error", err))
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, errors.NewAppErrorWithErr(errors.ErrorCodeInternal, "corrupt checkpoint blob "+key.String(), err)
	}
	return &cp, nil
}

// UpdateCheckpoint overwrites the partition's blob, retrying transient failures.
func (b *BlobStore) UpdateCheckpoint(ctx context.Context, cp Checkpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return errors.NewAppErrorWithErr(errors.ErrorCodeValidation, "checkpoint is not serializable", err)
	}

	logger := b.logger.With(
		logging.NewField("operation", "checkpoint.update"),
		logging.NewField("container", b.container),
		logging.NewField("blob", cp.Key.String()),
	)

	err = utils.Retry(ctx, b.retry, func() error {
		return b.api.upload(ctx, b.container, cp.Key.String(), data)
	})
	if err != nil {
		logger.Error("Failed to write checkpoint", logging.NewField("error", err))
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	logger.Debug("Checkpoint written", logging.NewField("offset", cp.Offset))
	return nil
}

type azblobAPI struct {
	client *azblob.Client
}

func (a *azblobAPI) createContainer(ctx context.Context, container string) error {
	_, err := a.client.CreateContainer(ctx, container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return err
	}
	return nil
}

func (a *azblobAPI) upload(ctx context.Context, container, name string, data []byte) error {
	_, err := a.client.UploadBuffer(ctx, container, name, data, nil)
	return err
}

func (a *azblobAPI) download(ctx context.Context, container, name string) ([]byte, error) {
	resp, err := a.client.DownloadStream(ctx, container, name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, errBlobNotFound
		}
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
