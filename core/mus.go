package core

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/mus-format/mus-go"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// MUS serializers for the records persisted by the storage layer. They follow
// the layout musgen produces: fields in declaration order, times as Unix
// microseconds (0 for the zero time). Chunk metadata holds arbitrary values and
// is carried as a JSON document; numbers decode as float64.

var (
	ChunkMUS      = chunkMUS{}
	ChunkListMUS  = chunkListMUS{}
	TaskRecordMUS = taskRecordMUS{}
	StringMapMUS  = stringMapMUS{}
	TimeMUS       = timeMUS{}
)

var (
	_ mus.Serializer[Chunk]             = ChunkMUS
	_ mus.Serializer[[]Chunk]           = ChunkListMUS
	_ mus.Serializer[TaskRecord]        = TaskRecordMUS
	_ mus.Serializer[map[string]string] = StringMapMUS
	_ mus.Serializer[time.Time]         = TimeMUS
)

type timeMUS struct{}

func (s timeMUS) Marshal(v time.Time, bs []byte) (n int) {
	return varint.Int64.Marshal(unixMicro(v), bs)
}

func (s timeMUS) Unmarshal(bs []byte) (v time.Time, n int, err error) {
	micros, n, err := varint.Int64.Unmarshal(bs)
	if err != nil || micros == 0 {
		return time.Time{}, n, err
	}
	return time.UnixMicro(micros).UTC(), n, nil
}

func (s timeMUS) Size(v time.Time) (size int) {
	return varint.Int64.Size(unixMicro(v))
}

func (s timeMUS) Skip(bs []byte) (n int, err error) {
	return varint.Int64.Skip(bs)
}

func unixMicro(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

type chunkMUS struct{}

func (s chunkMUS) Marshal(v Chunk, bs []byte) (n int) {
	n = ord.String.Marshal(v.DocumentID, bs)
	n += ord.String.Marshal(v.Content, bs[n:])
	n += varint.Int.Marshal(v.SequenceIndex, bs[n:])
	n += varint.Int.Marshal(v.WordCount, bs[n:])
	n += varint.Int.Marshal(v.TokenCount, bs[n:])
	return n + ord.String.Marshal(metadataJSON(v.Metadata), bs[n:])
}

func (s chunkMUS) Unmarshal(bs []byte) (v Chunk, n int, err error) {
	v.DocumentID, n, err = ord.String.Unmarshal(bs)
	if err != nil {
		return
	}
	var n1 int
	v.Content, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.SequenceIndex, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.WordCount, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.TokenCount, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	var meta string
	meta, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	if meta != "" {
		err = json.Unmarshal([]byte(meta), &v.Metadata)
	}
	return
}

func (s chunkMUS) Size(v Chunk) (size int) {
	size = ord.String.Size(v.DocumentID)
	size += ord.String.Size(v.Content)
	size += varint.Int.Size(v.SequenceIndex)
	size += varint.Int.Size(v.WordCount)
	size += varint.Int.Size(v.TokenCount)
	return size + ord.String.Size(metadataJSON(v.Metadata))
}

func (s chunkMUS) Skip(bs []byte) (n int, err error) {
	n, err = ord.String.Skip(bs)
	if err != nil {
		return
	}
	var n1 int
	n1, err = ord.String.Skip(bs[n:])
	n += n1
	if err != nil {
		return
	}
	for i := 0; i < 3; i++ {
		n1, err = varint.Int.Skip(bs[n:])
		n += n1
		if err != nil {
			return
		}
	}
	n1, err = ord.String.Skip(bs[n:])
	n += n1
	return
}

func metadataJSON(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

// NormalizeMetadata returns m in the shape it has after a round trip
// through storage: numbers become float64 and nested values become plain
// maps and slices. Values that cannot be encoded are returned unchanged.
func NormalizeMetadata(m map[string]any) map[string]any {
	encoded := metadataJSON(m)
	if encoded == "" {
		return m
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(encoded), &out); err != nil {
		return m
	}
	return out
}

type chunkListMUS struct{}

func (s chunkListMUS) Marshal(v []Chunk, bs []byte) (n int) {
	n = varint.PositiveInt.Marshal(len(v), bs)
	for _, c := range v {
		n += ChunkMUS.Marshal(c, bs[n:])
	}
	return n
}

func (s chunkListMUS) Unmarshal(bs []byte) (v []Chunk, n int, err error) {
	length, n, err := varint.PositiveInt.Unmarshal(bs)
	if err != nil {
		return
	}
	if length < 0 || length > len(bs) {
		return nil, n, mus.ErrTooSmallByteSlice
	}
	v = make([]Chunk, length)
	var n1 int
	for i := range v {
		v[i], n1, err = ChunkMUS.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return nil, n, err
		}
	}
	return v, n, nil
}

func (s chunkListMUS) Size(v []Chunk) (size int) {
	size = varint.PositiveInt.Size(len(v))
	for _, c := range v {
		size += ChunkMUS.Size(c)
	}
	return size
}

func (s chunkListMUS) Skip(bs []byte) (n int, err error) {
	length, n, err := varint.PositiveInt.Unmarshal(bs)
	if err != nil {
		return
	}
	var n1 int
	for i := 0; i < length; i++ {
		n1, err = ChunkMUS.Skip(bs[n:])
		n += n1
		if err != nil {
			return
		}
	}
	return
}

type stringMapMUS struct{}

// Marshal writes pairs in key order so equal maps encode identically.
func (s stringMapMUS) Marshal(v map[string]string, bs []byte) (n int) {
	n = varint.PositiveInt.Marshal(len(v), bs)
	for _, k := range sortedKeys(v) {
		n += ord.String.Marshal(k, bs[n:])
		n += ord.String.Marshal(v[k], bs[n:])
	}
	return n
}

func (s stringMapMUS) Unmarshal(bs []byte) (v map[string]string, n int, err error) {
	length, n, err := varint.PositiveInt.Unmarshal(bs)
	if err != nil || length == 0 {
		return nil, n, err
	}
	if length < 0 || length > len(bs) {
		return nil, n, mus.ErrTooSmallByteSlice
	}
	v = make(map[string]string, length)
	var n1 int
	var key, val string
	for i := 0; i < length; i++ {
		key, n1, err = ord.String.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return nil, n, err
		}
		val, n1, err = ord.String.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return nil, n, err
		}
		v[key] = val
	}
	return v, n, nil
}

func (s stringMapMUS) Size(v map[string]string) (size int) {
	size = varint.PositiveInt.Size(len(v))
	for k, val := range v {
		size += ord.String.Size(k) + ord.String.Size(val)
	}
	return size
}

func (s stringMapMUS) Skip(bs []byte) (n int, err error) {
	length, n, err := varint.PositiveInt.Unmarshal(bs)
	if err != nil {
		return
	}
	var n1 int
	for i := 0; i < 2*length; i++ {
		n1, err = ord.String.Skip(bs[n:])
		n += n1
		if err != nil {
			return
		}
	}
	return
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

type taskRecordMUS struct{}

func (s taskRecordMUS) Marshal(v TaskRecord, bs []byte) (n int) {
	n = ord.String.Marshal(v.ID, bs)
	n += ord.String.Marshal(v.Type, bs[n:])
	n += ord.String.Marshal(string(v.Status), bs[n:])
	n += raw.Float64.Marshal(v.Progress, bs[n:])
	n += varint.Int.Marshal(v.Retries, bs[n:])
	n += varint.Int.Marshal(v.MaxRetries, bs[n:])
	n += ord.String.Marshal(v.Result, bs[n:])
	n += ord.String.Marshal(v.Error, bs[n:])
	n += ord.String.Marshal(v.OwnerID, bs[n:])
	n += ord.String.Marshal(v.ParentID, bs[n:])
	n += StringMapMUS.Marshal(v.Metadata, bs[n:])
	n += TimeMUS.Marshal(v.CreatedAt, bs[n:])
	n += TimeMUS.Marshal(v.StartedAt, bs[n:])
	n += TimeMUS.Marshal(v.CompletedAt, bs[n:])
	return n + TimeMUS.Marshal(v.UpdatedAt, bs[n:])
}

func (s taskRecordMUS) Unmarshal(bs []byte) (v TaskRecord, n int, err error) {
	v.ID, n, err = ord.String.Unmarshal(bs)
	if err != nil {
		return
	}
	var n1 int
	v.Type, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	var status string
	status, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Status = TaskStatus(status)
	v.Progress, n1, err = raw.Float64.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Retries, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.MaxRetries, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	for _, field := range []*string{&v.Result, &v.Error, &v.OwnerID, &v.ParentID} {
		*field, n1, err = ord.String.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return
		}
	}
	v.Metadata, n1, err = StringMapMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	for _, field := range []*time.Time{&v.CreatedAt, &v.StartedAt, &v.CompletedAt, &v.UpdatedAt} {
		*field, n1, err = TimeMUS.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return
		}
	}
	return
}

func (s taskRecordMUS) Size(v TaskRecord) (size int) {
	size = ord.String.Size(v.ID)
	size += ord.String.Size(v.Type)
	size += ord.String.Size(string(v.Status))
	size += raw.Float64.Size(v.Progress)
	size += varint.Int.Size(v.Retries)
	size += varint.Int.Size(v.MaxRetries)
	size += ord.String.Size(v.Result)
	size += ord.String.Size(v.Error)
	size += ord.String.Size(v.OwnerID)
	size += ord.String.Size(v.ParentID)
	size += StringMapMUS.Size(v.Metadata)
	size += TimeMUS.Size(v.CreatedAt)
	size += TimeMUS.Size(v.StartedAt)
	size += TimeMUS.Size(v.CompletedAt)
	return size + TimeMUS.Size(v.UpdatedAt)
}

func (s taskRecordMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}
