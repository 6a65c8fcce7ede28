package id

import (
	"strings"

	"github.com/google/uuid"
	"github.com/rs/xid"
)

// XID 返回按时间有序的短 ID
func XID() string {
	return xid.New().String()
}

// UUID 返回去掉连字符的 UUID
func UUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
