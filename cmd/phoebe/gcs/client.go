// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gcs moves backups to and from Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ErrNotGCSURL is returned by ParseURL for anything but gs://bucket/object.
var ErrNotGCSURL = errors.New("not a gs://bucket/object URL")

// IsURL reports whether s names a GCS object.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "gs://")
}

// ParseURL splits gs://bucket/path/to/object into bucket and object name.
func ParseURL(s string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(s, "gs://")
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrNotGCSURL, s)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" || strings.HasSuffix(object, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrNotGCSURL, s)
	}
	return bucket, object, nil
}

type Client struct {
	storageClient *storage.Client
}

// NewClient connects with the service account key at saKeyPath, or with
// application default credentials when saKeyPath is empty.
func NewClient(ctx context.Context, saKeyPath string) (*Client, error) {
	var opts []option.ClientOption
	if saKeyPath != "" {
		if _, err := os.Stat(saKeyPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", saKeyPath)
		}
		opts = append(opts, option.WithCredentialsFile(saKeyPath))
	}
	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &Client{storageClient: storageClient}, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	return c.storageClient.Close()
}

// Writer returns a writer for gs://bucket/object. The object exists only
// after Close returns nil.
func (c *Client) Writer(ctx context.Context, bucket, object string) io.WriteCloser {
	w := c.storageClient.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.CacheControl = "no-cache, no-store, must-revalidate"
	return w
}

// Reader opens gs://bucket/object.
func (c *Client) Reader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	r, err := c.storageClient.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open gs://%s/%s: %w", bucket, object, err)
	}
	return r, nil
}
