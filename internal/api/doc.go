// Package api 暴露支付流账本的 REST 接口。
// 时间统一由服务端时钟注入，客户端不能指定清算时间点。
package api
