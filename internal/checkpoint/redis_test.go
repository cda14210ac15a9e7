package checkpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"go.uber.org/zap"

	"github.com/xzhHas/configflow/internal/changefeed"
)

func rejectShort(t changefeed.ResumeToken) error {
	if len(t) < 4 {
		return errors.New("too short")
	}
	return nil
}

func TestRedisLoadAbsent(t *testing.T) {
	c, mock := redismock.NewClientMock()
	s := NewRedisStore(c, "ConfigurationChangeResumeToken", rejectShort, zap.NewNop())
	mock.ExpectGet("ConfigurationChangeResumeToken").RedisNil()
	tok, err := s.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tok != nil {
		t.Fatalf("expected no token, got %v", tok)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRedisLoadPresent(t *testing.T) {
	c, mock := redismock.NewClientMock()
	s := NewRedisStore(c, "ConfigurationChangeResumeToken", rejectShort, zap.NewNop())
	mock.ExpectGet("ConfigurationChangeResumeToken").SetVal("\x01\x02\x03\x04\x05")
	tok, err := s.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if string(tok) != "\x01\x02\x03\x04\x05" {
		t.Fatalf("unexpected token %v", tok)
	}
}

func TestRedisLoadUnusableFallsBackToAbsent(t *testing.T) {
	c, mock := redismock.NewClientMock()
	s := NewRedisStore(c, "ConfigurationChangeResumeToken", rejectShort, zap.NewNop())
	mock.ExpectGet("ConfigurationChangeResumeToken").SetVal("\x01")
	tok, err := s.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tok != nil {
		t.Fatalf("unusable token must be treated as absent, got %v", tok)
	}
}

func TestRedisLoadTransportError(t *testing.T) {
	c, mock := redismock.NewClientMock()
	s := NewRedisStore(c, "ConfigurationChangeResumeToken", rejectShort, zap.NewNop())
	mock.ExpectGet("ConfigurationChangeResumeToken").SetErr(errors.New("connection refused"))
	if _, err := s.Load(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRedisSave(t *testing.T) {
	c, mock := redismock.NewClientMock()
	s := NewRedisStore(c, "ConfigurationChangeResumeToken", nil, zap.NewNop())
	mock.ExpectSet("ConfigurationChangeResumeToken", []byte("tok-1"), 0).SetVal("OK")
	if err := s.Save(context.Background(), changefeed.ResumeToken("tok-1")); err != nil {
		t.Fatal(err)
	}
	mock.ExpectSet("ConfigurationChangeResumeToken", []byte("tok-2"), 0).SetErr(errors.New("READONLY"))
	if err := s.Save(context.Background(), changefeed.ResumeToken("tok-2")); err == nil {
		t.Fatal("expected save error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
