package warc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/NEOS-AI/neos/internal/neoserr"
	"github.com/NEOS-AI/neos/pkg/config"
)

// Download fetches one WARC file named warcPath from source, making up to
// 35 attempts with exponential backoff capped at 30s. The HTTP and local
// paths use net/http and os directly; the S3 path speaks to any
// S3-compatible object store through minio-go (see DESIGN.md).
func Download(source config.WarcSource, warcPath string) (*File, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	var lastErr error
	for attempt := 0; attempt < 35; attempt++ {
		data, err := downloadOnce(source, warcPath)
		if err == nil {
			return New(data), nil
		}
		lastErr = err
		time.Sleep(b.NextBackOff())
	}
	return nil, fmt.Errorf("%w: %v", neoserr.ErrDownloadFailed, lastErr)
}

func downloadOnce(source config.WarcSource, warcPath string) ([]byte, error) {
	switch source.Kind {
	case config.WarcSourceLocal:
		if source.Local == nil {
			return nil, fmt.Errorf("warc: local source missing folder config")
		}
		return os.ReadFile(filepath.Join(source.Local.Folder, warcPath))
	case config.WarcSourceHTTP:
		if source.HTTP == nil {
			return nil, fmt.Errorf("warc: http source missing base_url config")
		}
		return downloadHTTP(source.HTTP.BaseURL, warcPath)
	case config.WarcSourceS3:
		if source.S3 == nil {
			return nil, fmt.Errorf("warc: s3 source missing bucket config")
		}
		return downloadS3(source.S3, warcPath)
	default:
		return nil, fmt.Errorf("warc: unknown warc source kind %q", source.Kind)
	}
}

func downloadS3(cfg *config.S3Config, warcPath string) ([]byte, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("warc: s3 client: %w", err)
	}

	key := warcPath
	if cfg.Folder != "" {
		key = path.Join(cfg.Folder, warcPath)
	}
	obj, err := client.GetObject(context.Background(), cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

func downloadHTTP(baseURL, warcPath string) ([]byte, error) {
	url := baseURL
	if !strings.HasSuffix(url, "/") {
		url += "/"
	}
	url += warcPath

	client := &http.Client{Timeout: 30 * time.Minute}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", neoserr.ErrDownloadFailed, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
