// Package mocks provides shared testify mocks for the project's core
// interfaces. Test-only helpers live here rather than in each package so a
// page or client mock is written once.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/scout-cli/api/schemas"
)

// -- Page Mock --

// MockPage mocks the schemas.Page interface.
type MockPage struct {
	mock.Mock
}

func (m *MockPage) URL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPage) Title(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPage) AccessibilityTree(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPage) VisibleText(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPage) HTML(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPage) Navigate(ctx context.Context, url string) (int, error) {
	args := m.Called(ctx, url)
	return args.Int(0), args.Error(1)
}

func (m *MockPage) Click(ctx context.Context, loc schemas.Locator) error {
	return m.Called(ctx, loc).Error(0)
}

func (m *MockPage) Fill(ctx context.Context, loc schemas.Locator, text string) error {
	return m.Called(ctx, loc, text).Error(0)
}

func (m *MockPage) Press(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockPage) Scroll(ctx context.Context, dx, dy int) error {
	return m.Called(ctx, dx, dy).Error(0)
}

func (m *MockPage) WaitForStability(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockPage) Sleep(ctx context.Context, d time.Duration) error {
	return m.Called(ctx, d).Error(0)
}

func (m *MockPage) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockPage) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

// Generate provides a mock function for LLM calls.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

// -- Confirmer Mock --

// MockConfirmer mocks the schemas.Confirmer interface.
type MockConfirmer struct {
	mock.Mock
}

func (m *MockConfirmer) Confirm(ctx context.Context, question string) (bool, error) {
	args := m.Called(ctx, question)
	return args.Bool(0), args.Error(1)
}

func (m *MockConfirmer) Ask(ctx context.Context, question string) (string, error) {
	args := m.Called(ctx, question)
	return args.String(0), args.Error(1)
}

// ApproveAll configures the confirmer to answer yes to every question. It
// returns the mock for fluent setup.
func (m *MockConfirmer) ApproveAll() *MockConfirmer {
	m.On("Confirm", mock.Anything, mock.Anything).Return(true, nil)
	return m
}

var (
	_ schemas.Page      = (*MockPage)(nil)
	_ schemas.LLMClient = (*MockLLMClient)(nil)
	_ schemas.Confirmer = (*MockConfirmer)(nil)
)
