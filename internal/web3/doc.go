// Package web3 定义与区块链交互的抽象接口和链配置模型。
// 账本本身是链下权威数据源，链上 StreamManager 合约的事件通过
// watcher 镜像进本地事件总线，供清算器和对账使用。
package web3
