package memo

import (
	"bytes"
	"encoding/binary"
	"io"
	"path/filepath"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
)

// TestHashReader tests the standalone hashReader function
// The main idea is to test if the hashing interacting with the abstractions preserve the results compared to using the hash directly
func TestHashReader(t *testing.T) {
	memFs := afero.NewMemMapFs()
	tmpDir, err := afero.TempDir(memFs, "", "hash-test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}

	testCases := []struct {
		name     string
		content  []byte
		hashFunc HashFunc
	}{
		{name: "Normal file", content: []byte("test content"), hashFunc: defaultHashFunc},
		{name: "Empty file", content: []byte{}, hashFunc: defaultHashFunc},
		{name: "Larger than buffer", content: bytes.Repeat([]byte("x"), defaultBufferSize+17), hashFunc: defaultHashFunc},
		{name: "xxhash", content: []byte("test content"), hashFunc: XXHash},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, "file.txt")
			if err := afero.WriteFile(memFs, path, tc.content, 0o644); err != nil {
				t.Fatalf("Failed to write test file: %v", err)
			}

			file, err := memFs.Open(path)
			if err != nil {
				t.Fatalf("Failed to open file: %v", err)
			}
			defer file.Close()

			h1 := tc.hashFunc()
			if err := hashReader(file, h1); err != nil {
				t.Fatalf("hashReader() error = %v", err)
			}

			h2 := tc.hashFunc()
			h2.Write(tc.content)

			if !bytes.Equal(h1.Sum(nil), h2.Sum(nil)) {
				t.Errorf("hashReader() produced different hash than direct hashing")
			}
		})
	}
}

func TestXXHash(t *testing.T) {
	h := XXHash()
	h.Write([]byte("memo"))
	if got, expected := binary.BigEndian.Uint64(h.Sum(nil)), xxhash.Sum64String("memo"); got != expected {
		t.Errorf("XXHash() = %x, expected %x", got, expected)
	}
}

func TestSourceIdentity(t *testing.T) {
	testCases := []struct {
		src      string
		expected string
	}{
		{"", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"abc", "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
	}

	for _, tc := range testCases {
		if got := SourceIdentity([]byte(tc.src)); got != tc.expected {
			t.Errorf("SourceIdentity(%q) = %s, expected %s", tc.src, got, tc.expected)
		}
	}
}

func TestFileIdentity(t *testing.T) {
	memFs := afero.NewMemMapFs()
	content := []byte("func square(x int) int { return x * x }")
	if err := afero.WriteFile(memFs, "/square.go", content, 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	id, err := FileIdentity(memFs, "/square.go")
	if err != nil {
		t.Fatalf("FileIdentity() error = %v", err)
	}
	if id != SourceIdentity(content) {
		t.Errorf("FileIdentity() = %s, expected %s", id, SourceIdentity(content))
	}

	if _, err := FileIdentity(memFs, "/nonexistent.go"); err == nil {
		t.Error("FileIdentity() should fail for a missing file, but there is no error")
	}
}

// TestSpecialCharacters tests hashing files with special characters in their names
func TestSpecialCharacters(t *testing.T) {
	memFs := afero.NewMemMapFs()
	content := []byte("content for special character test")

	specialNames := []string{
		"/special-!@#$%^&*().txt",
		"/space file.txt",
		"/unicode-文件.txt",
		"/emoji-😀.txt",
	}

	for _, name := range specialNames {
		t.Run(name, func(t *testing.T) {
			if err := afero.WriteFile(memFs, name, content, 0o644); err != nil {
				t.Fatalf("Failed to write file %s: %v", name, err)
			}

			id, err := FileIdentity(memFs, name)
			if err != nil {
				t.Fatalf("FileIdentity failed for %s: %v", name, err)
			}
			if id != SourceIdentity(content) {
				t.Errorf("FileIdentity produced different hash than direct hashing for %s", name)
			}
		})
	}
}

// TestBufferPoolReuse tests that the buffer pool is properly reused
func TestBufferPoolReuse(t *testing.T) {
	memFs := afero.NewMemMapFs()

	filePath := "/test.txt"
	content := []byte("test content for buffer pool test")
	if err := afero.WriteFile(memFs, filePath, content, 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	// Get a buffer from the pool
	bufPtr1 := bufferPool.Get().(*[]byte)
	buffer1 := *bufPtr1

	h := xxhash.New()
	file, err := memFs.Open(filePath)
	if err != nil {
		t.Fatalf("Failed to open file: %v", err)
	}
	defer file.Close()

	_, err = io.CopyBuffer(h, file, buffer1)
	if err != nil {
		t.Fatalf("Failed to copy: %v", err)
	}

	// Put the buffer back
	bufferPool.Put(bufPtr1)

	// Get another buffer
	bufPtr2 := bufferPool.Get().(*[]byte)
	buffer2 := *bufPtr2
	defer bufferPool.Put(bufPtr2)

	// Check if it's the same buffer (by capacity and length)
	if cap(buffer1) != cap(buffer2) || len(buffer1) != len(buffer2) {
		t.Errorf("Buffer pool not reusing buffers: cap1=%d, len1=%d, cap2=%d, len2=%d",
			cap(buffer1), len(buffer1), cap(buffer2), len(buffer2))
	}
}
