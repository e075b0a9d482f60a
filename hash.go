package memo

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
)

// Default size for the buffer used when hashing source files
const defaultBufferSize = 32 * 1024 // 32KB

// bufferPool is a pool of byte slices used for file I/O during hashing
var bufferPool = sync.Pool{
	New: func() interface{} {
		buffer := make([]byte, defaultBufferSize)
		return &buffer
	},
}

// HashFunc defines a function that creates a new hash.Hash instance.
type HashFunc func() hash.Hash

// defaultHashFunc returns the default hash function (SHA-256).
func defaultHashFunc() hash.Hash {
	return sha256.New()
}

// XXHash is a HashFunc producing 64-bit xxHash digests.
// It is much faster than the SHA-256 default but its collision space is only
// suited to small caches.
func XXHash() hash.Hash {
	return xxhash.New()
}

// hashReader hashes the content from a reader using the provided hash.
func hashReader(content io.Reader, h hash.Hash) error {
	bufPtr := bufferPool.Get().(*[]byte)
	buffer := *bufPtr
	defer bufferPool.Put(bufPtr)

	_, err := io.CopyBuffer(h, content, buffer)
	if err != nil {
		return fmt.Errorf("failed to copy content: %w", err)
	}
	return nil
}

// SourceIdentity returns the hex SHA-256 of a function's source text.
// Use it as Func.Identity so that editing the function body changes every
// ResourceID it produces.
func SourceIdentity(src []byte) string {
	sum := sha256.Sum256(src)
	return hex.EncodeToString(sum[:])
}

// FileIdentity hashes the file at path with SHA-256, for functions whose
// behavior is defined by a file (a script, a query, a Go source file embedded
// at build time).
func FileIdentity(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if err := hashReader(f, h); err != nil {
		return "", fmt.Errorf("file %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
