package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		logger := New(level, "text")
		assert.NotNil(t, logger, "level %s", level)
	}
}

func TestFromContext_Default(t *testing.T) {
	logger := FromContext(context.Background())
	assert.NotNil(t, logger)
}

func TestWithLogger_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := WithLogger(context.Background(), logger)
	FromContext(ctx).Info("hello")

	assert.Contains(t, buf.String(), "hello")
}

func TestTenant_AddsAttribute(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	Tenant(logger, "bot_abc").Info("started")

	out := buf.String()
	assert.Contains(t, out, "tenant_id=bot_abc")
}

func TestTenantUser_AddsBothAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	TenantUser(logger, "bot_abc", "42").Info("consumed")

	out := buf.String()
	assert.Contains(t, out, "tenant_id=bot_abc")
	assert.Contains(t, out, "user_id=42")
}

func TestRedactCredential(t *testing.T) {
	assert.Equal(t, "********", RedactCredential("short"))

	red := RedactCredential("123456789:AAEveryLongBotCredentialValue")
	assert.True(t, strings.HasPrefix(red, "12345678"))
	assert.NotContains(t, red, "AAEvery")
}
