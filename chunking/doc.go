// Package chunking turns documents into ordered chunk records.
//
// A Service derives a cache key from the source fingerprint and the
// effective chunking parameters, serves hits from a storage.ChunkCache and
// on a miss runs extraction, splitting and token counting before writing
// the result through to the cache.
//
// Basic usage:
//
//	svc := chunking.New(extract.New(), cache, tokenizer.New(""))
//	chunks, err := svc.ChunkDocument(ctx, doc, req)
package chunking
