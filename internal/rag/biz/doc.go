// Package biz 提供 RAG 服务的业务逻辑层。
//
// 该包将业务逻辑拆分为以下组件：
//   - IndexManager: 负责索引的构建与加载（加载文档、分块、嵌入、原子替换产物）
//   - Retriever: 绑定到某个已加载索引的只读检索句柄
//   - Graph: 问题路由状态机（相关性判断、检索、评分、生成）
//   - RAGService: 组合以上组件，管理 Uninitialized/Ready 生命周期
package biz
