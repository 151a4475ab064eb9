// Package s3 stores run artifacts in S3-compatible object storage.
//
// It backs the s3:// form of the known_hosts seed and persist targets and
// the archive of remote logs from failed jobs. Credentials come from the
// standard AWS chain unless static keys are configured.
package s3
