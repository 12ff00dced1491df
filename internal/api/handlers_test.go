package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"gatekeeper/internal/models"
	"gatekeeper/internal/stats"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	buckets          int
	created, evicted int64
}

func (f fakeRegistry) Len() int       { return f.buckets }
func (f fakeRegistry) Created() int64 { return f.created }
func (f fakeRegistry) Evicted() int64 { return f.evicted }

// MockDecisionStats implements DecisionStats for testing
type MockDecisionStats struct {
	mock.Mock
}

func (m *MockDecisionStats) Summary(ctx context.Context, topN int) (*stats.Summary, error) {
	args := m.Called(ctx, topN)
	summary, _ := args.Get(0).(*stats.Summary)
	return summary, args.Error(1)
}

func (m *MockDecisionStats) Dropped() int64 {
	return int64(m.Called().Int(0))
}

func TestNewHandlers(t *testing.T) {
	config := models.NewDefaultConfig()
	reg := fakeRegistry{buckets: 3}
	decisions := &MockDecisionStats{}

	handlers := NewHandlers(config, WithRegistryStats(reg), WithDecisionStats(decisions))

	assert.Same(t, config, handlers.config)
	assert.Equal(t, reg, handlers.registry)
	assert.Same(t, decisions, handlers.decisions)
}

func TestHandlers_HealthCheck(t *testing.T) {
	handlers := NewHandlers(models.NewDefaultConfig())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	recorder := httptest.NewRecorder()
	handlers.HealthCheck(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

	var response models.HealthCheckResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, models.StatusHealthy, response.Status)
	assert.Contains(t, response.Components, "rate_limiter")
	assert.NotContains(t, response.Components, "stats")
}

func TestHandlers_HealthCheck_StatsUnavailable(t *testing.T) {
	decisions := &MockDecisionStats{}
	decisions.On("Summary", mock.Anything, 1).Return(nil, errors.New("connection refused"))
	handlers := NewHandlers(models.NewDefaultConfig(), WithDecisionStats(decisions))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	recorder := httptest.NewRecorder()
	handlers.HealthCheck(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)

	var response models.HealthCheckResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, models.StatusDegraded, response.Status)
	assert.Equal(t, models.StatusUnhealthy, response.Components["stats"].Status)

	decisions.AssertExpectations(t)
}

func TestHandlers_RateLimitStats(t *testing.T) {
	decisions := &MockDecisionStats{}
	decisions.On("Summary", mock.Anything, 5).Return(&stats.Summary{
		Allowed: 40,
		Denied:  7,
		TopDenied: []stats.KeyCount{
			{Key: "203.0.113.9", Count: 5},
			{Key: "198.51.100.2", Count: 2},
		},
	}, nil)
	decisions.On("Dropped").Return(2)

	handlers := NewHandlers(models.NewDefaultConfig(),
		WithRegistryStats(fakeRegistry{buckets: 12, created: 15, evicted: 3}),
		WithDecisionStats(decisions))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ratelimit/stats?top=5", nil)
	recorder := httptest.NewRecorder()
	handlers.RateLimitStats(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)

	var response models.RateLimitStatsResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.True(t, response.Enabled)

	require.NotNil(t, response.Config)
	assert.Equal(t, int64(100), response.Config.Capacity)
	assert.Equal(t, "10s", response.Config.RefillPeriod)
	assert.Equal(t, "continuous", response.Config.RefillMode)
	assert.Equal(t, "ttl", response.Config.Eviction)

	require.NotNil(t, response.Registry)
	assert.Equal(t, models.RegistryStats{Buckets: 12, Created: 15, Evicted: 3}, *response.Registry)

	require.NotNil(t, response.Decisions)
	assert.Equal(t, int64(40), response.Decisions.Allowed)
	assert.Equal(t, int64(7), response.Decisions.Denied)
	assert.Equal(t, int64(2), response.Decisions.Dropped)
	assert.Equal(t, []models.KeyCount{
		{Key: "203.0.113.9", Count: 5},
		{Key: "198.51.100.2", Count: 2},
	}, response.Decisions.TopDenied)

	decisions.AssertExpectations(t)
}

func TestHandlers_RateLimitStats_TopParameter(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		wantN  int
		status int
	}{
		{"default", "", defaultTopDenied, http.StatusOK},
		{"explicit", "?top=3", 3, http.StatusOK},
		{"capped", "?top=5000", maxTopDenied, http.StatusOK},
		{"zero", "?top=0", 0, http.StatusOK},
		{"negative", "?top=-1", 0, http.StatusBadRequest},
		{"not a number", "?top=many", 0, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decisions := &MockDecisionStats{}
			if tt.status == http.StatusOK {
				decisions.On("Summary", mock.Anything, tt.wantN).Return(&stats.Summary{}, nil)
				decisions.On("Dropped").Return(0)
			}
			handlers := NewHandlers(models.NewDefaultConfig(), WithDecisionStats(decisions))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/ratelimit/stats"+tt.query, nil)
			recorder := httptest.NewRecorder()
			handlers.RateLimitStats(recorder, req)

			assert.Equal(t, tt.status, recorder.Code)
			if tt.status != http.StatusOK {
				var errResp models.ErrorResponse
				require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &errResp))
				assert.Equal(t, models.ErrorCodeInvalidRequest, errResp.Code)
			}
			decisions.AssertExpectations(t)
		})
	}
}

func TestHandlers_RateLimitStats_Disabled(t *testing.T) {
	config := models.NewDefaultConfig()
	config.RateLimit.Enabled = false
	handlers := NewHandlers(config, WithRegistryStats(fakeRegistry{buckets: 1}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ratelimit/stats", nil)
	recorder := httptest.NewRecorder()
	handlers.RateLimitStats(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)

	var response models.RateLimitStatsResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.False(t, response.Enabled)
	assert.Nil(t, response.Config)
	assert.Nil(t, response.Registry)
	assert.Nil(t, response.Decisions)
}

func TestHandlers_RateLimitStats_StoreError(t *testing.T) {
	decisions := &MockDecisionStats{}
	decisions.On("Summary", mock.Anything, defaultTopDenied).Return(nil, errors.New("redis: i/o timeout"))
	handlers := NewHandlers(models.NewDefaultConfig(), WithDecisionStats(decisions))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ratelimit/stats", nil)
	recorder := httptest.NewRecorder()
	recorder.Header().Set("X-Request-ID", "req-42")
	handlers.RateLimitStats(recorder, req)

	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)

	var errResp models.ErrorResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &errResp))
	assert.Equal(t, models.ErrorCodeServiceUnavailable, errResp.Code)
	assert.Equal(t, "req-42", errResp.RequestID)
}

func TestHandlers_Echo(t *testing.T) {
	handlers := NewHandlers(models.NewDefaultConfig())

	req := httptest.NewRequest(http.MethodPost, "/orders/17", nil)
	req.RemoteAddr = "192.0.2.10:5123"
	recorder := httptest.NewRecorder()
	recorder.Header().Set("X-Request-ID", "req-7")
	handlers.Echo(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)

	var response models.EchoResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, http.MethodPost, response.Method)
	assert.Equal(t, "/orders/17", response.Path)
	assert.Equal(t, "192.0.2.10:5123", response.RemoteAddr)
	assert.Equal(t, "req-7", response.RequestID)
}
