package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// RAG 服务代码: 20 (业务服务范围 20-79)
// 错误码格式: AABBCCC
// - AA: 20 (RAG 服务)
// - BB: 类别代码
// - CCC: 序号

var (
	// 请求参数错误 (类别 01)
	ErrRAGInvalidQuery = Register(New(MakeCode(ServiceRAG, CategoryRequest, 1), http.StatusBadRequest, codes.InvalidArgument, "Invalid question", "问题无效"))

	// 索引未就绪，调用方需要先构建索引 (类别 04)
	ErrRAGIndexNotReady = Register(New(MakeCode(ServiceRAG, CategoryResource, 1), http.StatusServiceUnavailable, codes.FailedPrecondition, "Index is not ready, build the index first", "索引未就绪，请先构建索引"))

	// 文档目录中没有可用文档 (类别 04)
	ErrRAGEmptyCorpus = Register(New(MakeCode(ServiceRAG, CategoryResource, 2), http.StatusUnprocessableEntity, codes.FailedPrecondition, "No documents found, add PDF or TXT files to the documents directory", "未找到文档，请向文档目录添加 PDF 或 TXT 文件"))

	// 构建正在进行 (类别 05)
	ErrRAGBuildInProgress = Register(New(MakeCode(ServiceRAG, CategoryConflict, 1), http.StatusConflict, codes.Aborted, "Index build already in progress", "索引构建正在进行"))

	// 内部错误 (类别 07)
	ErrRAGGraph = Register(New(MakeCode(ServiceRAG, CategoryInternal, 1), http.StatusInternalServerError, codes.Internal, "Query graph failed", "查询流程执行失败"))

	// 索引产物读写错误 (类别 08)
	ErrRAGArtifact = Register(New(MakeCode(ServiceRAG, CategoryStorage, 1), http.StatusInternalServerError, codes.Internal, "Index artifact I/O failed", "索引文件读写失败"))

	// 模型调用错误 (类别 10)
	ErrRAGModelCall = Register(New(MakeCode(ServiceRAG, CategoryNetwork, 1), http.StatusBadGateway, codes.Unavailable, "Model provider call failed", "模型调用失败"))

	// 配置错误：嵌入维度不一致、缺少凭证等 (类别 12)
	ErrRAGConfig = Register(New(MakeCode(ServiceRAG, CategoryConfig, 1), http.StatusInternalServerError, codes.FailedPrecondition, "Configuration error", "配置错误"))
)
