// Package mysql 提供各业务存储共用的 MySQL 连接管理。
// Open 在建连后按版本执行 deploy/migrations 内嵌的迁移脚本，
// 各业务包（stream、registry、messenger）的 initSchema 仅兜底建表。
package mysql
