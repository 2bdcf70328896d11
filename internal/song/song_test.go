package song_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"songconvert/internal/services"
	"songconvert/internal/song"
	"songconvert/internal/testsupport"
)

func TestLoadReadsHeader(t *testing.T) {
	dir := testsupport.SongFolder(t, t.TempDir(), "Queen", "Bohemian Rhapsody")

	s, err := song.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.CommonName() != "Queen - Bohemian Rhapsody" {
		t.Fatalf("unexpected common name %q", s.CommonName())
	}
	audio, err := s.PrimaryAudio()
	if err != nil || audio != "song.mp3" {
		t.Fatalf("PrimaryAudio = %q, %v", audio, err)
	}
	video, ok := s.Asset(song.TagVideo)
	if !ok || video != filepath.Join(dir, "video.avi") {
		t.Fatalf("unexpected video asset %q", video)
	}
	if s.Encoding() != song.EncodingUTF8 {
		t.Fatalf("expected utf-8, got %s", s.Encoding())
	}
}

func TestPrimaryAudioPrefersAudioTag(t *testing.T) {
	s, err := song.Parse([]byte("#TITLE:T\n#ARTIST:A\n#MP3:old.mp3\n#AUDIO:new.m4a\n: 0 1 0 x\nE\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	audio, err := s.PrimaryAudio()
	if err != nil || audio != "new.m4a" {
		t.Fatalf("PrimaryAudio = %q, %v", audio, err)
	}

	bare, _ := song.Parse([]byte("#TITLE:T\n#ARTIST:A\nE\n"))
	if _, err := bare.PrimaryAudio(); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFlushPreservesBodyAndOrder(t *testing.T) {
	dir := testsupport.SongFolder(t, t.TempDir(), "A", "B")
	s, err := song.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s.Set(song.TagVocals, "A - B [VOC].mp3")
	s.Set(song.TagVideo, "video.mp4")
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "#TITLE:B\n#ARTIST:A\n#MP3:song.mp3\n#VIDEO:video.mp4\n#BPM:300\n#VOCALS:A - B [VOC].mp3\n: 0 4 10 Hel\n: 4 4 10 lo\nE\n"
	if string(data) != want {
		t.Fatalf("unexpected file:\n%s\nwant:\n%s", data, want)
	}
}

func TestWindows1252RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "song.txt")
	// "Beyoncé" in Windows-1252 (0xE9), CRLF line endings.
	raw := []byte("#TITLE:Halo\r\n#ARTIST:Beyonc\xe9\r\n#MP3:halo.mp3\r\nE\r\n")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := song.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Encoding() != song.EncodingWindows1252 {
		t.Fatalf("expected windows-1252, got %s", s.Encoding())
	}
	if s.Artist() != "Beyoncé" {
		t.Fatalf("unexpected artist %q", s.Artist())
	}
	s.Set(song.TagInstrumental, "Beyoncé - Halo [INSTR].mp3")
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	data, _ := os.ReadFile(path)
	want := []byte("#TITLE:Halo\r\n#ARTIST:Beyonc\xe9\r\n#MP3:halo.mp3\r\n#INSTRUMENTAL:Beyonc\xe9 - Halo [INSTR].mp3\r\nE\r\n")
	if !bytes.Equal(data, want) {
		t.Fatalf("unexpected bytes %q", data)
	}
}

func TestBOMIsPreserved(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "song.txt")
	raw := append([]byte{0xEF, 0xBB, 0xBF}, []byte("#TITLE:T\n#ARTIST:A\n#MP3:a.mp3\nE\n")...)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := song.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Title() != "T" {
		t.Fatalf("BOM leaked into first tag: %q", s.Title())
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !bytes.Equal(data, raw) {
		t.Fatalf("expected identical bytes, got %q", data)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := song.Load(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for missing folder, got %v", err)
	}
	empty := t.TempDir()
	if _, err := song.Load(empty); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for folder without metadata, got %v", err)
	}
	if _, err := song.Parse([]byte("just lyrics\n")); err == nil || !strings.Contains(err.Error(), "header") {
		t.Fatalf("expected header error, got %v", err)
	}
}
