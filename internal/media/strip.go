package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/greenhouse-labs/sprig/internal/types"
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"video/mp4":  ".mp4",
}

// Strip rewrites a record for push: inline base64 data URIs are uploaded
// and replaced with media:// references. When upload is unavailable the
// field is dropped entirely so oversized blobs never hit the wire. The
// input record is not mutated.
func Strip(ctx context.Context, up Uploader, table types.Table, rec types.Record) types.Record {
	out := rec.Clone()
	id := rec.ID()

	for field, v := range out {
		switch val := v.(type) {
		case string:
			if !isDataURI(val) {
				continue
			}
			if ref, ok := offload(ctx, up, objectKey(table, id, field, 0), val); ok {
				out[field] = ref
			} else {
				delete(out, field)
			}
		case []any:
			kept := make([]any, 0, len(val))
			changed := false
			for i, item := range val {
				s, isString := item.(string)
				if !isString || !isDataURI(s) {
					kept = append(kept, item)
					continue
				}
				changed = true
				if ref, ok := offload(ctx, up, objectKey(table, id, field, i), s); ok {
					kept = append(kept, ref)
				}
			}
			if changed {
				out[field] = kept
			}
		}
	}
	return out
}

func offload(ctx context.Context, up Uploader, key, dataURI string) (string, bool) {
	contentType, data, err := decodeDataURI(dataURI)
	if err != nil {
		slog.Warn("undecodable inline media dropped",
			"component", "media", "key", key, "error", err)
		return "", false
	}
	ref, err := up.Upload(ctx, key+extensions[contentType], data, contentType)
	if err != nil {
		if err != ErrNotConfigured {
			slog.Warn("media upload failed, dropping field",
				"component", "media", "key", key, "error", err)
		}
		return "", false
	}
	return ref, true
}

func isDataURI(s string) bool {
	return strings.HasPrefix(s, "data:") && strings.Contains(s, ";base64,")
}

func decodeDataURI(s string) (contentType string, data []byte, err error) {
	rest := strings.TrimPrefix(s, "data:")
	meta, payload, found := strings.Cut(rest, ";base64,")
	if !found {
		return "", nil, fmt.Errorf("not a base64 data URI")
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decoding media payload: %w", err)
	}
	return meta, data, nil
}

func objectKey(table types.Table, id, field string, index int) string {
	if index > 0 {
		return fmt.Sprintf("%s/%s/%s-%d", table, id, field, index)
	}
	return fmt.Sprintf("%s/%s/%s", table, id, field)
}
