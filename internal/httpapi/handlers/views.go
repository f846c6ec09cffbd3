package handlers

import (
	"time"

	"blobxfer/internal/service"
	"blobxfer/internal/store"
)

func viewJSON(v service.View) map[string]any {
	out := map[string]any{
		"id":          v.Handle.ID,
		"filename":    v.Handle.Filename,
		"length":      v.Handle.Length,
		"owner":       v.Handle.Owner,
		"mimeType":    v.Metadata.MimeType,
		"extension":   v.Metadata.Extension,
		"renderable":  v.Metadata.Renderable,
		"tooLarge":    v.Metadata.TooLarge,
		"ready":       v.Ready,
		"downloading": v.Downloading,
		"uploading":   v.Uploading,
		"syncing":     v.Syncing,
		"throughput":  v.Throughput,
		"progress": map[string]any{
			"pos":      v.Stats.Pos,
			"size":     v.Stats.Size,
			"rate":     v.Stats.Throughput,
			"paused":   v.Stats.Paused,
			"fraction": v.Stats.Fraction(),
		},
		"lastDownload": v.LastDownload.String(),
		"lastUpload":   v.LastUpload.String(),
	}
	if v.ObjectID != "" {
		out["objectId"] = v.ObjectID
		out["objectUrl"] = "/api/v1/objects/" + v.ObjectID
	}
	if v.DownloadErr != "" {
		out["downloadError"] = v.DownloadErr
	}
	if v.UploadErr != "" {
		out["uploadError"] = v.UploadErr
	}
	if v.SyncErr != "" {
		out["syncError"] = v.SyncErr
	}
	return out
}

func contentJSON(c store.Content) map[string]any {
	return map[string]any{
		"id":        c.ID,
		"filename":  c.Filename,
		"length":    c.Length,
		"owner":     c.Owner,
		"mimeType":  c.MimeType,
		"digest":    c.Digest,
		"createdAt": toMillis(c.CreatedAt),
		"updatedAt": toMillis(c.UpdatedAt),
	}
}

func transferJSON(t store.Transfer) map[string]any {
	return map[string]any{
		"id":         t.ID.String(),
		"direction":  t.Direction,
		"outcome":    t.Outcome,
		"bytes":      t.Bytes,
		"durationMs": t.DurationMS,
		"error":      t.Error,
		"createdAt":  toMillis(t.CreatedAt),
	}
}

func tokenJSON(t store.APIToken) map[string]any {
	return map[string]any{
		"id":         t.ID.String(),
		"subject":    t.Subject,
		"name":       t.Name,
		"scope":      t.Scope,
		"disabled":   t.Disabled,
		"createdAt":  toMillis(t.CreatedAt),
		"lastUsedAt": toMillisPtr(t.LastUsedAt),
	}
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func toMillisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := t.UTC().UnixMilli()
	return &v
}
