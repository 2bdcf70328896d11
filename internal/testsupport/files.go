package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	for i := range buf {
		buf[i] = 0x42
	}

	remaining := size
	for remaining > 0 {
		toWrite := int64(chunkSize)
		if remaining < toWrite {
			toWrite = remaining
		}
		if _, err := f.Write(buf[:toWrite]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= toWrite
	}
}

// WriteText writes content to path, creating parent directories.
func WriteText(t testing.TB, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// SongFolder creates a song folder holding a metadata file and the media it
// references. Extra header lines are appended after the standard tags.
func SongFolder(t testing.TB, root, artist, title string, extra ...string) string {
	t.Helper()

	dir := filepath.Join(root, artist+" - "+title)
	header := "#TITLE:" + title + "\n#ARTIST:" + artist + "\n#MP3:song.mp3\n#VIDEO:video.avi\n#BPM:300\n"
	for _, line := range extra {
		header += line + "\n"
	}
	header += ": 0 4 10 Hel\n: 4 4 10 lo\nE\n"
	WriteText(t, filepath.Join(dir, artist+" - "+title+".txt"), header)
	WriteFile(t, filepath.Join(dir, "song.mp3"), 64)
	WriteFile(t, filepath.Join(dir, "video.avi"), 64)
	return dir
}
