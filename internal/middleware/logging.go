// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"time"
)

// WriteAuditLog は監査ログを出力する。
// subjectにはユーザーコードや鍵IDなど操作対象の識別子を渡す。
// トークン本体は決して渡さないこと。
func WriteAuditLog(ctx context.Context, operation string, subject string, result string) {
	slog.InfoContext(ctx, "auth operation completed",
		"operation", operation,
		"subject", subject,
		"result", result,
		"timestamp", time.Now().UTC().Format(time.RFC3339),
	)
}
