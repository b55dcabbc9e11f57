package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/stemsi/exstem-attempt/internal/config"
)

func newTestAuth(t *testing.T) (*AuthService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	cfg := &config.Config{JWTSecret: "secret", JWTExpiry: time.Hour, SessionCheck: true}
	return NewAuthService(cfg, rdb), mr
}

func TestIssueAndValidate(t *testing.T) {
	auth, _ := newTestAuth(t)
	tok, err := auth.IssueStudentToken(7, 3)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := auth.ValidateToken(tok)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != 7 || claims.ClassID != 3 || claims.TokenType != TokenTypeStudent {
		t.Fatalf("claims %+v", claims)
	}
}

func TestValidateRejects(t *testing.T) {
	auth, _ := newTestAuth(t)

	other := NewAuthService(&config.Config{JWTSecret: "other", JWTExpiry: time.Hour}, nil)
	foreign, _ := other.IssueStudentToken(7, 3)
	if _, err := auth.ValidateToken(foreign); err == nil {
		t.Error("token signed with another secret accepted")
	}

	expired := NewAuthService(&config.Config{JWTSecret: "secret", JWTExpiry: -time.Minute}, nil)
	old, _ := expired.IssueStudentToken(7, 3)
	if _, err := auth.ValidateToken(old); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("expired token err = %v", err)
	}

	if _, err := auth.ValidateToken("not-a-token"); err == nil {
		t.Error("garbage accepted")
	}
}

func TestValidateStudentSession(t *testing.T) {
	auth, mr := newTestAuth(t)
	ctx := context.Background()

	if err := auth.ValidateStudentSession(ctx, 7, "jti-1"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v", err)
	}
	mr.Set(config.CacheKey.StudentSessionKey(7), "jti-1")
	if err := auth.ValidateStudentSession(ctx, 7, "jti-1"); err != nil {
		t.Fatalf("err = %v", err)
	}
	if err := auth.ValidateStudentSession(ctx, 7, "jti-2"); !errors.Is(err, ErrSessionInvalidated) {
		t.Fatalf("err = %v", err)
	}
}
