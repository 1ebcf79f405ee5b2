package export

import "context"

// Uploader ships aggregation exports to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// UploadFile uploads one local file under the configured prefix.
	UploadFile(ctx context.Context, localPath string) error

	// UploadDir uploads every file in localDir under the configured
	// prefix, preserving relative paths.
	UploadDir(ctx context.Context, localDir string) error
}
