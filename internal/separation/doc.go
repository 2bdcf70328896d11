// Package separation implements the split stage: demucs separates a song's
// primary audio into vocal and instrumental tracks that are stored beside it
// as "<Artist> - <Title> [VOC].mp3" and "... [INSTR].mp3" and referenced from
// the metadata header.
package separation
