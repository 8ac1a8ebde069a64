// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"

	// 会话相关错误
	ErrorSessionNotFound = "SESSION_NOT_FOUND"

	// 衣橱相关错误
	ErrorGarmentNotFound = "GARMENT_NOT_FOUND"

	// 生成相关错误
	ErrorGenerationFailed   = "GENERATION_FAILED"
	ErrorGenerationInFlight = "GENERATION_IN_FLIGHT"

	// 提供者配置相关错误
	ErrorProviderConfigInvalid = "PROVIDER_CONFIG_INVALID"
	ErrorConnectionFailed      = "CONNECTION_FAILED"

	// 文件相关错误
	ErrorFileUploadFailed = "FILE_UPLOAD_FAILED"
	ErrorFileInvalid      = "FILE_INVALID"
	ErrorFileNotFound     = "FILE_NOT_FOUND"

	// 限流
	ErrorRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
)
