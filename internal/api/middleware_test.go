// internal/api/middleware_test.go
package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/mirrorwear/fitstudio/internal/errors"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter()

	for i := 0; i < 3; i++ {
		if !rl.Allow("client-a", 3, time.Minute) {
			t.Fatalf("第 %d 次请求不应被限流", i+1)
		}
	}
	if rl.Allow("client-a", 3, time.Minute) {
		t.Error("超出配额的请求应被拒绝")
	}

	// 不同的键互不影响
	if !rl.Allow("client-b", 3, time.Minute) {
		t.Error("其他客户端不应受影响")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	rl := NewRateLimiter()

	if !rl.Allow("client", 1, 20*time.Millisecond) {
		t.Fatal("首次请求不应被限流")
	}
	if rl.Allow("client", 1, 20*time.Millisecond) {
		t.Fatal("窗口内第二次请求应被拒绝")
	}

	time.Sleep(30 * time.Millisecond)
	if !rl.Allow("client", 1, 20*time.Millisecond) {
		t.Error("窗口过期后请求应被放行")
	}
}

func TestAppErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rh := NewResponseHelper()

	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"生成失败", apperrors.NewGenerationError("图像生成失败", nil), http.StatusBadGateway, ErrorGenerationFailed},
		{"在途冲突", apperrors.NewBusyError("已有生成请求在进行中"), http.StatusConflict, ErrorGenerationInFlight},
		{"校验失败", apperrors.NewValidationError("参数无效", nil), http.StatusBadRequest, ErrorBadRequest},
		{"不存在", apperrors.NewNotFoundError("会话不存在", nil), http.StatusNotFound, ErrorNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			rh.AppError(c, tc.err)

			if w.Code != tc.wantStatus {
				t.Errorf("期望状态码 %d, 实际 %d", tc.wantStatus, w.Code)
			}

			var resp APIResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("响应不是合法JSON: %v", err)
			}
			if resp.Success {
				t.Error("错误响应的success应为false")
			}
			if resp.Error == nil || resp.Error.Code != tc.wantCode {
				t.Errorf("期望错误代码 %s, 实际 %+v", tc.wantCode, resp.Error)
			}
		})
	}
}

func TestSanitizeErrorMessage(t *testing.T) {
	if got := sanitizeErrorMessage("invalid api_key provided"); got != "An internal error occurred" {
		t.Errorf("含敏感字段的消息应被整体替换, 实际 %q", got)
	}
	if got := sanitizeErrorMessage("会话不存在"); got != "会话不存在" {
		t.Errorf("普通消息不应被修改, 实际 %q", got)
	}
}
