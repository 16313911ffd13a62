package format

import "filecollection/internal/repository"

// ProgressLookup 由持有上传状态的一方提供，按记录 ID 查询 0..1 的进度。
type ProgressLookup interface {
	Lookup(id string) (float64, bool)
}

// Entry 是一条记录在列表中展示所需的全部字段。
type Entry struct {
	ID              string `json:"id"`
	Owner           string `json:"owner"`
	ShortFilename   string `json:"shortFilename"`
	FormattedLength string `json:"formattedLength"`
	IsImage         bool   `json:"isImage"`
	Complete        bool   `json:"complete"`
	Status          string `json:"status,omitempty"`
	Progress        *int   `json:"progress,omitempty"`
	Link            string `json:"link,omitempty"`
}

// NewEntry 组装展示字段；progress 可以为 nil。
func NewEntry(rec repository.FileRecord, progress ProgressLookup, baseURL string) Entry {
	entry := Entry{
		ID:              rec.ID,
		Owner:           rec.Metadata.Owner,
		ShortFilename:   Shorten(rec.Filename),
		FormattedLength: FormattedLength(rec.Length),
		IsImage:         IsImage(rec.ContentType),
		Complete:        rec.MD5 != "",
	}

	if entry.Complete {
		entry.Link = Link(baseURL, rec.MD5)
		return entry
	}

	var (
		fraction float64
		known    bool
	)
	if progress != nil {
		fraction, known = progress.Lookup(rec.ID)
	}
	entry.Status = UploadStatus(fraction, known)
	if pct, ok := UploadProgress(fraction, known); ok {
		entry.Progress = &pct
	}
	return entry
}
