package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Client) {
	// Create a miniredis server
	mr, err := miniredis.Run()
	require.NoError(t, err)

	// Create client with test redis
	client, err := NewClient("redis://"+mr.Addr(), "test", zap.NewNop())
	require.NoError(t, err)

	return mr, client
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		environment string
		expectError bool
	}{
		{
			name:        "Invalid URL",
			url:         "invalid://url",
			environment: "test",
			expectError: true,
		},
		{
			name:        "Empty URL",
			url:         "",
			environment: "test",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.url, tt.environment, zap.NewNop())

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, client)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, client)
			}
		})
	}
}

func TestClient_Get(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()

	ctx := context.Background()

	tests := []struct {
		name          string
		key           string
		setValue      string
		expectedValue string
		expectError   bool
	}{
		{
			name:          "Get existing key",
			key:           "test:key1",
			setValue:      "value1",
			expectedValue: "value1",
			expectError:   false,
		},
		{
			name:          "Get non-existing key",
			key:           "test:nonexistent",
			setValue:      "",
			expectedValue: "",
			expectError:   true, // Returns error for non-existent key
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setValue != "" {
				mr.Set(tt.key, tt.setValue)
			}

			value, err := client.Get(ctx, tt.key)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expectedValue, value)
			}
		})
	}
}

func TestClient_Set(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()

	ctx := context.Background()

	tests := []struct {
		name        string
		key         string
		value       interface{}
		ttl         time.Duration
		expectError bool
	}{
		{
			name:        "Set string value",
			key:         "test:key1",
			value:       "value1",
			ttl:         time.Minute,
			expectError: false,
		},
		{
			name:        "Set with no expiration",
			key:         "test:key2",
			value:       "permanent",
			ttl:         0,
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Set(ctx, tt.key, tt.value, tt.ttl)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)

				// Verify the value was set
				val, _ := mr.Get(tt.key)
				assert.NotEmpty(t, val)

				// Check TTL if set
				if tt.ttl > 0 {
					ttl := mr.TTL(tt.key)
					assert.Greater(t, ttl, time.Duration(0))
				}
			}
		})
	}
}

func TestClient_GetDel(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()

	ctx := context.Background()

	mr.Set("test:once", "payload")

	// First consumption returns the value and removes the key
	val, err := client.GetDel(ctx, "test:once")
	assert.NoError(t, err)
	assert.Equal(t, "payload", val)
	assert.False(t, mr.Exists("test:once"))

	// Second consumption fails with Nil
	_, err = client.GetDel(ctx, "test:once")
	assert.ErrorIs(t, err, Nil)

	// Unknown key fails with Nil
	_, err = client.GetDel(ctx, "test:nonexistent")
	assert.ErrorIs(t, err, Nil)
}

func TestClient_Delete(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()

	ctx := context.Background()

	// Set some test keys
	mr.Set("test:key1", "value1")
	mr.Set("test:key2", "value2")
	mr.Set("test:key3", "value3")

	tests := []struct {
		name        string
		keys        []string
		expectError bool
	}{
		{
			name:        "Delete single key",
			keys:        []string{"test:key1"},
			expectError: false,
		},
		{
			name:        "Delete multiple keys",
			keys:        []string{"test:key2", "test:key3"},
			expectError: false,
		},
		{
			name:        "Delete non-existent key",
			keys:        []string{"test:nonexistent"},
			expectError: false, // Delete of non-existent key is not an error
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Delete(ctx, tt.keys...)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)

				// Verify keys were deleted
				for _, key := range tt.keys {
					val, _ := mr.Get(key)
					assert.Empty(t, val)
				}
			}
		})
	}
}

func TestClient_Exists(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()

	ctx := context.Background()

	// Set some test keys
	mr.Set("test:exists1", "value1")
	mr.Set("test:exists2", "value2")

	tests := []struct {
		name          string
		keys          []string
		expectedCount int64
		expectError   bool
	}{
		{
			name:          "Single existing key",
			keys:          []string{"test:exists1"},
			expectedCount: 1,
			expectError:   false,
		},
		{
			name:          "Multiple existing keys",
			keys:          []string{"test:exists1", "test:exists2"},
			expectedCount: 2,
			expectError:   false,
		},
		{
			name:          "Non-existent key",
			keys:          []string{"test:nonexistent"},
			expectedCount: 0,
			expectError:   false,
		},
		{
			name:          "Mixed existing and non-existent",
			keys:          []string{"test:exists1", "test:nonexistent"},
			expectedCount: 1,
			expectError:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, err := client.Exists(ctx, tt.keys...)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expectedCount, count)
			}
		})
	}
}

func TestClient_Health(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()

	ctx := context.Background()

	// Test healthy Redis
	err := client.Health(ctx)
	assert.NoError(t, err)

	// Test unhealthy Redis (close the miniredis)
	mr.Close()
	err = client.Health(ctx)
	assert.Error(t, err)
}

func TestClient_Close(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()

	// Close should not error
	err := client.Close()
	assert.NoError(t, err)

	// After close, operations should fail
	ctx := context.Background()
	_, err = client.Get(ctx, "test:key")
	assert.Error(t, err)
}

func TestClient_KeyBuilderIntegration(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()

	ctx := context.Background()

	assert.NotNil(t, client.KeyBuilder)

	// Use KeyBuilder to generate a key and round-trip through it
	key := client.KeyBuilder.KeyRevokedJTI("abc123")

	err := client.Set(ctx, key, "1", time.Hour)
	assert.NoError(t, err)

	value, err := client.Get(ctx, key)
	assert.NoError(t, err)
	assert.Equal(t, "1", value)

	val, _ := mr.Get(key)
	assert.Equal(t, "1", val)
}
