package mockapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/fieldhand/internal/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubTokenManager struct {
	validateErr error
	subject     string
}

func (s stubTokenManager) IssuePair(string) (auth.TokenPair, error) {
	return auth.TokenPair{}, errors.New("not implemented")
}

func (s stubTokenManager) Issue(string, auth.TokenType) (string, error) {
	return "", errors.New("not implemented")
}

func (s stubTokenManager) Validate(string, auth.TokenType) (string, error) {
	return s.subject, s.validateErr
}

func runAuthorize(t *testing.T, tokens TokenManager, header string) (*httptest.ResponseRecorder, *gin.Context, *observer.ObservedLogs) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/api/posts", http.NoBody)
	if header != "" {
		request.Header.Set("Authorization", header)
	}
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{tokens: tokens, logger: zap.New(core)}
	handler.authorize(auth.TokenTypeAccess)(ctx)
	return recorder, ctx, logs
}

func TestAuthorizeLogsExpiredTokenAtInfoLevel(t *testing.T) {
	recorder, _, logs := runAuthorize(t, stubTokenManager{validateErr: auth.ErrExpiredToken}, "Bearer expired-token")

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entries[0].Level)
	}
	if entries[0].Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entries[0].Message)
	}
}

func TestAuthorizeLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	recorder, _, logs := runAuthorize(t, stubTokenManager{validateErr: errors.New("signature mismatch")}, "Bearer invalid-token")

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warn entry, got %v", entries)
	}
}

func TestAuthorizeRejectsMissingHeaderWithoutLogging(t *testing.T) {
	recorder, _, logs := runAuthorize(t, stubTokenManager{subject: "u-1"}, "")

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	if logs.Len() != 0 {
		t.Fatalf("expected no log entries, got %d", logs.Len())
	}
}

func TestAuthorizeRecordsSubject(t *testing.T) {
	_, ctx, _ := runAuthorize(t, stubTokenManager{subject: "u-1"}, "Bearer good-token")

	if got := viewerID(ctx); got != "u-1" {
		t.Fatalf("expected subject on context, got %q", got)
	}
	if ctx.IsAborted() {
		t.Fatalf("expected request to continue")
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{TokenManager: stubTokenManager{}}); !errors.Is(err, errMissingPlatform) {
		t.Fatalf("expected errMissingPlatform, got %v", err)
	}
	if _, err := NewHTTPHandler(Dependencies{Platform: NewPlatform(nil, 0)}); !errors.Is(err, errMissingTokenManager) {
		t.Fatalf("expected errMissingTokenManager, got %v", err)
	}
}
