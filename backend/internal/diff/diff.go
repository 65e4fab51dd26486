package diff

import "github.com/samber/lo"

// Diff 比较两次同步的页面 ID 列表：
// toCreate = current - previous，toEvict = previous - current。
// 按唯一 ID 做集合差，和顺序、重复次数无关（ID 是内容寻址的），
// 结果保持各自来源列表中第一次出现的顺序。
func Diff(previous, current []string) (toCreate, toEvict []string) {
	prev := lo.Uniq(previous)
	cur := lo.Uniq(current)
	toEvict, toCreate = lo.Difference(prev, cur)
	return toCreate, toEvict
}
