package storage

import "io"

// BlobStore holds learner-uploaded answer media (file, audio and video
// assignment responses), keyed per attempt and question.
type BlobStore interface {
	Put(key string, r io.Reader) (string, error) // returns canonical key
	Get(key string) (io.ReadCloser, error)
	SignedURL(key string) (string, error) // fs returns "file://..." for dev
}
