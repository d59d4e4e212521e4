// Package store 提供 RAG 服务的数据存储层。
//
// 该包定义了索引产物的存储抽象（ArtifactStore / Index），
// 以及本地文件和 Milvus 两种实现，另外提供记录构建历史的 Ledger。
package store
