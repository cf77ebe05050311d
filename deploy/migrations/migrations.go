// Package migrations 内嵌按版本号命名的 SQL 迁移脚本，
// 由 internal/storage/mysql 在建连时依序执行。
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
