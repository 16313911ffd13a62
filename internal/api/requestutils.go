package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"filecollection/internal/resumable"
	"filecollection/internal/service"
)

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorEnvelope{Error: message})
}

// parseChunkInput 读取 resumable.js 的标准参数。
func parseChunkInput(values url.Values) (service.ChunkInput, error) {
	var (
		in  service.ChunkInput
		err error
	)

	in.FileID = strings.TrimSpace(values.Get(resumable.ParamIdentifier))
	if in.FileID == "" {
		return in, fmt.Errorf("%s is required", resumable.ParamIdentifier)
	}
	in.Filename = values.Get(resumable.ParamFilename)

	if in.Number, err = requiredInt(values, resumable.ParamChunkNumber); err != nil {
		return in, err
	}
	if in.TotalChunks, err = requiredInt(values, resumable.ParamTotalChunks); err != nil {
		return in, err
	}
	if in.ChunkSize, err = requiredInt64(values, resumable.ParamChunkSize); err != nil {
		return in, err
	}
	if in.TotalSize, err = requiredInt64(values, resumable.ParamTotalSize); err != nil {
		return in, err
	}
	if raw := values.Get(resumable.ParamCurrentChunkSize); raw != "" {
		if in.CurrentChunkSize, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return in, fmt.Errorf("invalid %s: %w", resumable.ParamCurrentChunkSize, err)
		}
	}
	return in, nil
}

func requiredInt(values url.Values, key string) (int, error) {
	raw := values.Get(key)
	if raw == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func requiredInt64(values url.Values, key string) (int64, error) {
	raw := values.Get(key)
	if raw == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
