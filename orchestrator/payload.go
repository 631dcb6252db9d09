package orchestrator

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/poiesic/docket/core"
)

// Job payload keys.
const (
	keyDocumentID       = "document_id"
	keyDocuments        = "documents"
	keyChunkSize        = "chunk_size"
	keyChunkOverlap     = "chunk_overlap"
	keyStrategy         = "strategy"
	keySeparator        = "separator"
	keyCustomSeparators = "custom_separators"
	keyKeepSeparator    = "keep_separator"
)

func encodeRequest(req core.ChunkingRequest, payload map[string]string) error {
	payload[keyChunkSize] = strconv.Itoa(req.ChunkSize)
	payload[keyChunkOverlap] = strconv.Itoa(req.ChunkOverlap)
	payload[keyStrategy] = string(req.Strategy)
	payload[keySeparator] = req.Separator
	payload[keyKeepSeparator] = strconv.FormatBool(req.KeepSeparator)
	if len(req.CustomSeparators) > 0 {
		seps, err := json.Marshal(req.CustomSeparators)
		if err != nil {
			return err
		}
		payload[keyCustomSeparators] = string(seps)
	}
	return nil
}

func decodeRequest(payload map[string]string) (core.ChunkingRequest, error) {
	var req core.ChunkingRequest
	var err error
	if req.ChunkSize, err = strconv.Atoi(payload[keyChunkSize]); err != nil {
		return req, fmt.Errorf("%w: chunk size: %w", core.ErrConfig, err)
	}
	if req.ChunkOverlap, err = strconv.Atoi(payload[keyChunkOverlap]); err != nil {
		return req, fmt.Errorf("%w: chunk overlap: %w", core.ErrConfig, err)
	}
	if req.Strategy, err = core.ParseStrategy(payload[keyStrategy]); err != nil {
		return req, err
	}
	req.Separator = payload[keySeparator]
	req.KeepSeparator = payload[keyKeepSeparator] == "true"
	if raw := payload[keyCustomSeparators]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.CustomSeparators); err != nil {
			return req, fmt.Errorf("%w: custom separators: %w", core.ErrConfig, err)
		}
	}
	return req, core.ValidateChunkingRequest(req)
}

func encodeDocumentIDs(ids []string) (string, error) {
	raw, err := json.Marshal(ids)
	return string(raw), err
}

func decodeDocumentIDs(raw string) ([]string, error) {
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("%w: batch documents: %w", core.ErrConfig, err)
	}
	return ids, nil
}
