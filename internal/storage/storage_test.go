package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"report_engine/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, s Storage, key string) string {
	t.Helper()
	rc, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestLocalStorage(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	s, err := New(config.Storage{Type: TypeLocal, BasePath: t.TempDir()}, Options{MaxRetries: 1, RetryDelay: time.Millisecond}, logger)
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, "sales/q1.yaml", strings.NewReader("name: q1\n")))
	require.NoError(t, s.Save(ctx, "sales/img/logo.png", strings.NewReader("png")))
	require.NoError(t, s.Save(ctx, "hr/staff.yaml", strings.NewReader("name: staff\n")))

	assert.Equal(t, "name: q1\n", readAll(t, s, "sales/q1.yaml"))

	ok, err := s.Exists(ctx, "sales/q1.yaml")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "sales")
	require.NoError(t, err)
	assert.False(t, ok, "directories are not files")

	files, err := s.List(ctx, "sales/")
	require.NoError(t, err)
	keys := make([]string, 0, len(files))
	for _, f := range files {
		keys = append(keys, f.Key)
	}
	assert.ElementsMatch(t, []string{"sales/q1.yaml", "sales/img/logo.png"}, keys)

	files, err = s.List(ctx, "missing/")
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = s.Get(ctx, "sales/q2.yaml")
	assert.True(t, IsNotFound(err))

	require.NoError(t, s.Delete(ctx, "sales/q1.yaml"))
	require.NoError(t, s.Delete(ctx, "sales/q1.yaml"))
	ok, err = s.Exists(ctx, "sales/q1.yaml")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, "sales/img/logo.png", s.JoinPath("sales", "img", "logo.png"))
}

func TestLocalStorageRejectsUnsafeKeys(t *testing.T) {
	ctx := context.Background()
	s, err := New(config.Storage{Type: TypeLocal, BasePath: t.TempDir()}, DefaultOptions(), nil)
	require.NoError(t, err)

	for _, key := range []string{"", "../etc/passwd", "a/../../b", "/etc/passwd"} {
		_, err := s.Get(ctx, key)
		assert.Error(t, err, key)
		assert.False(t, IsNotFound(err), key)
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(config.Storage{Type: "ftp"}, DefaultOptions(), nil)
	assert.Error(t, err)

	_, err = New(config.Storage{Type: TypeLocal, BasePath: "relative/dir"}, DefaultOptions(), nil)
	assert.Error(t, err)

	_, err = New(config.Storage{Type: TypeS3, S3: config.S3{Region: "eu-west-1"}}, DefaultOptions(), nil)
	assert.Error(t, err, "bucket is required")

	err = validateS3Config(config.S3{Region: "eu-west-1", Bucket: "b", AccessKey: "key"})
	assert.Error(t, err, "secret key is missing")

	assert.NoError(t, validateS3Config(config.S3{Region: "eu-west-1", Bucket: "b"}))
}

type mockStorage struct {
	mock.Mock
}

func (m *mockStorage) Save(ctx context.Context, key string, r io.Reader) error {
	return m.Called(ctx, key, r).Error(0)
}

func (m *mockStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	if rc := args.Get(0); rc != nil {
		return rc.(io.ReadCloser), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStorage) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *mockStorage) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *mockStorage) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	args := m.Called(ctx, prefix)
	files, _ := args.Get(0).([]FileInfo)
	return files, args.Error(1)
}

func (m *mockStorage) JoinPath(elem ...string) string { return strings.Join(elem, "/") }

func (m *mockStorage) ValidateKey(key string) error {
	if key == "" {
		return errors.New("empty key")
	}
	return nil
}

func TestRetryMiddleware(t *testing.T) {
	ctx := context.Background()
	logger, hook := test.NewNullLogger()

	inner := new(mockStorage)
	inner.On("Get", ctx, "flaky.yaml").Return(nil, errors.New("connection reset")).Twice()
	inner.On("Get", ctx, "flaky.yaml").Return(io.NopCloser(strings.NewReader("ok")), nil).Once()
	inner.On("Get", ctx, "gone.yaml").Return(nil, notFound("gone.yaml")).Once()

	s := NewRetryMiddleware(inner, 3, time.Millisecond, logger)

	rc, err := s.Get(ctx, "flaky.yaml")
	require.NoError(t, err)
	rc.Close()

	_, err = s.Get(ctx, "gone.yaml")
	assert.True(t, IsNotFound(err))

	inner.AssertExpectations(t)
	assert.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestRetryMiddlewareGivesUp(t *testing.T) {
	ctx := context.Background()
	inner := new(mockStorage)
	inner.On("Exists", ctx, "x").Return(false, errors.New("timeout")).Times(3)

	s := NewRetryMiddleware(inner, 2, time.Millisecond, nil)
	_, err := s.Exists(ctx, "x")
	assert.EqualError(t, err, "timeout")
	inner.AssertExpectations(t)
}

func TestLoggingMiddleware(t *testing.T) {
	ctx := context.Background()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	inner := new(mockStorage)
	inner.On("Delete", ctx, "a.yaml").Return(errors.New("denied")).Once()
	s := NewLoggingMiddleware(inner, logger)

	assert.Error(t, s.Delete(ctx, "a.yaml"))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "delete", hook.LastEntry().Data["operation"])
}

func TestValidationMiddleware(t *testing.T) {
	inner := new(mockStorage)
	s := NewValidationMiddleware(inner)

	_, err := s.Get(context.Background(), "")
	assert.Error(t, err)
	inner.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}
