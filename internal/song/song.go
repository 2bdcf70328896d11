package song

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"songconvert/internal/services"
)

// Header tags the pipeline reads or writes.
const (
	TagTitle        = "TITLE"
	TagArtist       = "ARTIST"
	TagAudio        = "AUDIO"
	TagMP3          = "MP3"
	TagVideo        = "VIDEO"
	TagVocals       = "VOCALS"
	TagInstrumental = "INSTRUMENTAL"
)

const metadataExt = ".txt"

type tag struct {
	key   string
	value string
}

// Song is a parsed metadata file. It is not safe for concurrent use.
type Song struct {
	path     string
	folder   string
	encoding Encoding
	newline  string
	header   []tag
	body     []string
}

// FindMetadata returns the metadata file of a song folder: the first .txt
// file in lexical order.
func FindMetadata(folder string) (string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", services.Wrap(services.ErrNotFound, "song", "find metadata", "song folder does not exist", err)
		}
		return "", services.Wrap(services.ErrValidation, "song", "find metadata", "read song folder", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.EqualFold(filepath.Ext(entry.Name()), metadataExt) {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return "", services.Wrap(services.ErrNotFound, "song", "find metadata",
			fmt.Sprintf("no %s metadata file in %s", metadataExt, folder), nil)
	}
	slices.Sort(names)
	return filepath.Join(folder, names[0]), nil
}

// Load reads the metadata file of the song folder.
func Load(folder string) (*Song, error) {
	path, err := FindMetadata(folder)
	if err != nil {
		return nil, err
	}
	return Open(path)
}

// Open reads and parses the metadata file at path.
func Open(path string) (*Song, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "song", "read metadata", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "song", "parse metadata", path, err)
	}
	s.path = path
	s.folder = filepath.Dir(path)
	return s, nil
}

// Parse decodes raw metadata file contents. The result has no path until
// assigned by Open.
func Parse(data []byte) (*Song, error) {
	text, enc, err := decode(data)
	if err != nil {
		return nil, err
	}
	s := &Song{encoding: enc, newline: "\n"}
	if strings.Contains(text, "\r\n") {
		s.newline = "\r\n"
	}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	i := 0
	for ; i < len(lines); i++ {
		line := lines[i]
		if !strings.HasPrefix(line, "#") {
			break
		}
		key, value, ok := strings.Cut(line[1:], ":")
		if !ok {
			break
		}
		s.header = append(s.header, tag{key: strings.ToUpper(strings.TrimSpace(key)), value: strings.TrimSpace(value)})
	}
	s.body = lines[i:]
	if len(s.header) == 0 {
		return nil, errors.New("missing #TAG header")
	}
	return s, nil
}

// Path returns the metadata file location.
func (s *Song) Path() string { return s.path }

// Folder returns the song folder.
func (s *Song) Folder() string { return s.folder }

// Encoding returns the on-disk encoding.
func (s *Song) Encoding() Encoding { return s.encoding }

// Get returns the value of a header tag.
func (s *Song) Get(key string) (string, bool) {
	key = strings.ToUpper(key)
	for _, t := range s.header {
		if t.key == key {
			return t.value, true
		}
	}
	return "", false
}

// Set replaces the value of key in place, or appends it to the header.
func (s *Song) Set(key, value string) {
	key = strings.ToUpper(key)
	for i := range s.header {
		if s.header[i].key == key {
			s.header[i].value = value
			return
		}
	}
	s.header = append(s.header, tag{key: key, value: value})
}

// Title returns the #TITLE tag.
func (s *Song) Title() string {
	v, _ := s.Get(TagTitle)
	return v
}

// Artist returns the #ARTIST tag.
func (s *Song) Artist() string {
	v, _ := s.Get(TagArtist)
	return v
}

// CommonName is "Artist - Title", the base name for derived assets.
func (s *Song) CommonName() string {
	return s.Artist() + " - " + s.Title()
}

// PrimaryAudio returns the audio file name: #AUDIO, falling back to #MP3.
func (s *Song) PrimaryAudio() (string, error) {
	for _, key := range []string{TagAudio, TagMP3} {
		if v, ok := s.Get(key); ok && v != "" {
			return v, nil
		}
	}
	return "", services.Wrap(services.ErrValidation, "song", "primary audio", "neither #AUDIO nor #MP3 is set", nil)
}

// Asset resolves a header tag to a path inside the song folder.
func (s *Song) Asset(key string) (string, bool) {
	v, ok := s.Get(key)
	if !ok || v == "" {
		return "", false
	}
	return filepath.Join(s.folder, v), true
}

// Bytes renders the metadata in its original encoding and line endings.
func (s *Song) Bytes() ([]byte, error) {
	var b strings.Builder
	for _, t := range s.header {
		b.WriteString("#")
		b.WriteString(t.key)
		b.WriteString(":")
		b.WriteString(t.value)
		b.WriteString(s.newline)
	}
	for _, line := range s.body {
		b.WriteString(line)
		b.WriteString(s.newline)
	}
	data, enc, err := encode(b.String(), s.encoding)
	if err != nil {
		return nil, err
	}
	s.encoding = enc
	return data, nil
}

// Flush writes the metadata back to disk through a temp file and rename.
func (s *Song) Flush() error {
	if s.path == "" {
		return errors.New("song has no metadata path")
	}
	data, err := s.Bytes()
	if err != nil {
		return services.Wrap(services.ErrValidation, "song", "encode metadata", s.path, err)
	}
	mode := os.FileMode(0o644)
	if info, statErr := os.Stat(s.path); statErr == nil {
		mode = info.Mode().Perm()
	}
	tmp, err := os.CreateTemp(s.folder, ".songconvert-meta-*")
	if err != nil {
		return fmt.Errorf("create temp metadata: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp metadata: %w", err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("chmod temp metadata: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace metadata: %w", err)
	}
	return nil
}
