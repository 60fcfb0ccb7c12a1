package signer

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Param 单个查询参数
type Param struct {
	Key   string
	Value string
}

// Params 有序的查询参数列表，允许重复键，顺序即签名顺序
type Params []Param

// Get 返回第一个匹配键的值
func (p Params) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Count 统计某个键出现的次数
func (p Params) Count(key string) int {
	n := 0
	for _, kv := range p {
		if kv.Key == key {
			n++
		}
	}
	return n
}

// Without 返回去掉所有指定键后的副本
func (p Params) Without(key string) Params {
	out := make(Params, 0, len(p))
	for _, kv := range p {
		if kv.Key != key {
			out = append(out, kv)
		}
	}
	return out
}

// With 在末尾追加一个参数，返回新的列表
func (p Params) With(key, value string) Params {
	out := make(Params, 0, len(p)+1)
	out = append(out, p...)
	return append(out, Param{Key: key, Value: value})
}

// Encode 按顺序序列化为 form 编码的查询串
func (p Params) Encode() string {
	var b strings.Builder
	for i, kv := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.Value))
	}
	return b.String()
}

// ParseQuery parses a raw query string into ordered pairs.
// url.ParseQuery loses ordering, so the pairs are split by hand.
func ParseQuery(rawQuery string) (Params, error) {
	var out Params
	if rawQuery == "" {
		return out, nil
	}
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		k, err := url.QueryUnescape(key)
		if err != nil {
			return nil, fmt.Errorf("invalid query key %q: %w", key, err)
		}
		v, err := url.QueryUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("invalid query value for %q: %w", k, err)
		}
		out = append(out, Param{Key: k, Value: v})
	}
	return out, nil
}

// FromMap 将 map 转为按键排序的 Params，便于 CLI 等无序输入
func FromMap(m map[string]string) Params {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(Params, 0, len(keys))
	for _, k := range keys {
		out = append(out, Param{Key: k, Value: m[k]})
	}
	return out
}
