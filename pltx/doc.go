// Package pltx reads PLTX files: indexed, chunked, optionally compressed
// binary time-series containers.
//
// A PLTX file holds named signals, each stored as a list of
// independently decodable chunks of (timestamp, value) records. The
// index at the end of the file locates every chunk, so a signal can be
// streamed without loading the file into memory.
//
// Open parses the header and index once and returns a Reader that is
// shared by all consumers of that file. Each consumer drains its own
// Cursor, which decodes one chunk at a time through a mutex-serialized
// file handle. The file is read-only input and is never modified.
package pltx
