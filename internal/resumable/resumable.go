// Package resumable holds the chunking arithmetic and form field names shared
// by the server and the client of the resumable.js upload protocol.
package resumable

// resumable.js 提交的参数名。
const (
	ParamIdentifier       = "resumableIdentifier"
	ParamFilename         = "resumableFilename"
	ParamChunkNumber      = "resumableChunkNumber"
	ParamTotalChunks      = "resumableTotalChunks"
	ParamChunkSize        = "resumableChunkSize"
	ParamCurrentChunkSize = "resumableCurrentChunkSize"
	ParamTotalSize        = "resumableTotalSize"
	FileField             = "file"
)

// ExpectedChunks 按 resumable.js 的规则计算分片数：末片吸收余数，至少一片。
func ExpectedChunks(totalSize, chunkSize int64) int {
	if chunkSize <= 0 {
		return 0
	}
	n := int(totalSize / chunkSize)
	if n < 1 {
		n = 1
	}
	return n
}

// ExpectedChunkSize 返回第 number 片（从 1 开始）应有的字节数。
func ExpectedChunkSize(number int, totalSize, chunkSize int64) int64 {
	total := ExpectedChunks(totalSize, chunkSize)
	if number < total {
		return chunkSize
	}
	return totalSize - int64(total-1)*chunkSize
}

// ChunkOffset 返回第 number 片在文件中的起始偏移。
func ChunkOffset(number int, chunkSize int64) int64 {
	return int64(number-1) * chunkSize
}
