package processor

import (
	"time"

	"github.com/LJTian/Newsy/internal/storage"
)

// IsRecent 判断文章是否在 maxAgeDays 天的新鲜度窗口内。
// 日期没能解析出来的文章一律视为不新鲜；恰好等于截止时间的也排除。
func IsRecent(a storage.Article, now time.Time, maxAgeDays int) bool {
	if !a.PublishedResolved || a.PublishedAt.IsZero() {
		return false
	}
	cutoff := now.AddDate(0, 0, -maxAgeDays)
	return a.PublishedAt.After(cutoff)
}
