package index

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/NEOS-AI/neos/pkg/config"
)

// DiscoverShards lists every WARC file path a warc_source makes
// available. Local sources list their folder directly; HTTP sources
// fetch a "warc.paths[.gz]" manifest the way Common Crawl publishes its
// shard lists; S3 sources list the bucket prefix through minio-go.
func DiscoverShards(source config.WarcSource) ([]string, error) {
	switch source.Kind {
	case config.WarcSourceLocal:
		if source.Local == nil {
			return nil, fmt.Errorf("index: local source missing folder config")
		}
		return discoverLocal(source.Local.Folder)
	case config.WarcSourceHTTP:
		if source.HTTP == nil {
			return nil, fmt.Errorf("index: http source missing base_url config")
		}
		return discoverHTTP(source.HTTP.BaseURL)
	case config.WarcSourceS3:
		if source.S3 == nil {
			return nil, fmt.Errorf("index: s3 source missing bucket config")
		}
		return discoverS3(source.S3)
	default:
		return nil, fmt.Errorf("index: unknown warc source kind %q", source.Kind)
	}
}

func discoverS3(cfg *config.S3Config) ([]string, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("index: s3 client: %w", err)
	}

	prefix := cfg.Folder
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var out []string
	for obj := range client.ListObjects(context.Background(), cfg.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if !strings.HasSuffix(obj.Key, ".warc.gz") && !strings.HasSuffix(obj.Key, ".warc") {
			continue
		}
		out = append(out, strings.TrimPrefix(obj.Key, prefix))
	}
	sort.Strings(out)
	return out, nil
}

func discoverLocal(folder string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".warc.gz") || strings.HasSuffix(e.Name(), ".warc") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func discoverHTTP(baseURL string) ([]string, error) {
	client := &http.Client{Timeout: 2 * time.Minute}

	url := strings.TrimSuffix(baseURL, "/") + "/warc.paths.gz"
	resp, err := client.Get(url)
	if err != nil || resp.StatusCode != http.StatusOK {
		if resp != nil {
			resp.Body.Close()
		}
		return discoverHTTPPlain(client, strings.TrimSuffix(baseURL, "/")+"/warc.paths")
	}
	defer resp.Body.Close()

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return scanLines(gz)
}

func discoverHTTPPlain(client *http.Client, url string) ([]string, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("index: fetch warc.paths manifest: status %d", resp.StatusCode)
	}
	return scanLines(resp.Body)
}

func scanLines(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	var out []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			out = append(out, line)
		}
	}
	return out, scanner.Err()
}
