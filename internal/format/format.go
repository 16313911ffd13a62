// Package format renders file records for people: shortened names, byte sizes,
// upload state labels.
package format

import (
	"fmt"
	"math"
	"strings"
)

// DefaultShortenWidth 是文件名缩写的默认宽度。
const DefaultShortenWidth = 16

// Shorten 以默认宽度缩写文件名。
func Shorten(name string) string {
	return ShortenWidth(name, DefaultShortenWidth)
}

// ShortenWidth 保留首尾各 half+1 个字符，中间以 "..." 相连，half = (width-2)/2。
//
// 名字只比 half 长一点时首尾两段会重叠，结果比原名还长，与旧客户端的截断结果保持一致。
func ShortenWidth(name string, width int) string {
	if width%2 != 0 {
		width++
	}
	half := (width - 2) / 2

	runes := []rune(name)
	if len(runes) <= half {
		return name
	}

	end := half + 1
	if end == 0 {
		// width 为 0 时 end 为 0，按"取到末尾"处理
		end = len(runes)
	}
	head := sliceRunes(runes, 0, end)
	tail := sliceRunes(runes, -half-1, len(runes))
	return head + "..." + tail
}

// sliceRunes 按 start/end 截取，负下标从末尾倒数，越界时夹到合法范围。
func sliceRunes(runes []rune, start, end int) string {
	n := len(runes)
	clamp := func(i int) int {
		if i < 0 {
			i += n
			if i < 0 {
				return 0
			}
		}
		if i > n {
			return n
		}
		return i
	}
	s, e := clamp(start), clamp(end)
	if s >= e {
		return ""
	}
	return string(runes[s:e])
}

var binaryUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}

// FormattedLength 以二进制单位、保留一位小数输出字节数，如 1536 -> "1.5KiB"。
func FormattedLength(length int64) string {
	value := float64(length)
	unit := 0
	for unit < len(binaryUnits)-1 && math.Abs(value) >= 1024 {
		value /= 1024
		unit++
	}
	return fmt.Sprintf("%.1f%s", value, binaryUnits[unit])
}

var imageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/gif":  {},
	"image/tiff": {},
}

// IsImage 判断内容类型是否属于可内联预览的图片。
func IsImage(contentType string) bool {
	_, ok := imageTypes[contentType]
	return ok
}

// UploadStatus 在尚无进度时返回 "Processing..."，否则返回 "Uploading..."。
func UploadStatus(fraction float64, known bool) string {
	if !known {
		return "Processing..."
	}
	return "Uploading..."
}

// UploadProgress 把 0..1 的进度换算为整数百分比。
func UploadProgress(fraction float64, known bool) (int, bool) {
	if !known {
		return 0, false
	}
	pct := int(math.Floor(fraction * 100))
	switch {
	case pct < 0:
		pct = 0
	case pct > 100:
		pct = 100
	}
	return pct, true
}

// Link 拼出按 md5 下载的地址。
func Link(baseURL, md5 string) string {
	return strings.TrimRight(baseURL, "/") + "/" + md5
}
