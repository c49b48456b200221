package protocol

import (
	"encoding/json"
	"fmt"
)

// FileMeta is the payload of file_start / file_volume / file_end envelopes.
// file_start carries name and size, file_volume carries one base64 chunk,
// file_end carries only the file ID.
type FileMeta struct {
	FileID      string `json:"fileId"`
	FileName    string `json:"fileName,omitempty"`
	FileSize    int64  `json:"fileSize,omitempty"`
	Chunk       int    `json:"chunk,omitempty"`
	TotalChunks int    `json:"totalChunks,omitempty"`
	Data        string `json:"data,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// DecodeFileMeta converts loosely typed envelope data into a FileMeta.
func DecodeFileMeta(data any) (FileMeta, error) {
	var meta FileMeta
	raw, err := json.Marshal(data)
	if err != nil {
		return meta, fmt.Errorf("encode file meta: %w", err)
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, fmt.Errorf("decode file meta: %w", err)
	}
	if meta.FileID == "" {
		return meta, fmt.Errorf("file message without fileId")
	}
	return meta, nil
}
