// Package song reads and writes the header of an UltraStar song folder's
// metadata file.
//
// Only the `#TAG:value` header is interpreted; note lines are preserved
// verbatim. Files are decoded from UTF-8 (with or without BOM) or, when not
// valid UTF-8, Windows-1252, and Flush writes them back in the same encoding.
package song
