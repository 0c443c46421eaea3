package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarketDataClient_GetBar_CallsCorrectEndpoint(t *testing.T) {
	var capturedPath string
	var capturedQuery string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path
		capturedQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"date": "2024-01-02", "open": 10.1, "high": 10.5, "low": 9.9, "close": 10.3, "volume": 12345.0,
		})
	}))
	defer server.Close()

	client := NewMarketDataClient(server.URL, "test-key")
	bar, err := client.GetBar(context.Background(), "600000.SH", "2024-01-02")

	require.NoError(t, err)
	assert.Equal(t, "/bar", capturedPath)
	assert.Contains(t, capturedQuery, "code=600000.SH")
	assert.Equal(t, 10.3, bar.Close)
}

func TestMarketDataClient_SendsBearerAuth(t *testing.T) {
	var capturedAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]string{})
	}))
	defer server.Close()

	client := NewMarketDataClient(server.URL, "secret-token")
	_, err := client.GetCalendar(context.Background(), "2024-01-01", "2024-01-31")

	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-token", capturedAuth)
}

func TestMarketDataClient_GetCalendar_ReturnsDates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]string{"2024-01-02", "2024-01-03"})
	}))
	defer server.Close()

	client := NewMarketDataClient(server.URL, "")
	dates, err := client.GetCalendar(context.Background(), "2024-01-01", "2024-01-31")

	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-02", "2024-01-03"}, dates)
}

func TestMarketDataClient_GetBasicInfo_Decodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code": "600000.SH", "name": "Pudong Bank", "is_st": false, "is_delisted": false,
		})
	}))
	defer server.Close()

	client := NewMarketDataClient(server.URL, "")
	info, err := client.GetBasicInfo(context.Background(), "600000.SH")

	require.NoError(t, err)
	assert.Equal(t, "Pudong Bank", info.Name)
	assert.False(t, info.IsST)
}

func TestMarketDataClient_GetHotPool_SplitsCodesAndSectors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"codes":   []string{"600000.SH", "000001.SZ"},
			"sectors": []map[string]interface{}{{"name": "Banking", "strength": 0.8}},
		})
	}))
	defer server.Close()

	client := NewMarketDataClient(server.URL, "")
	codes, sectors, err := client.GetHotPool(context.Background(), "2024-01-02")

	require.NoError(t, err)
	assert.Len(t, codes, 2)
	assert.Len(t, sectors, 1)
}

func TestMarketDataClient_GetNewsForCode_PassesLimitAsQueryParam(t *testing.T) {
	var capturedQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"date": "2024-01-02", "code": "600000.SH", "title": "headline", "summary": "body"},
		})
	}))
	defer server.Close()

	client := NewMarketDataClient(server.URL, "")
	items, err := client.GetNewsForCode(context.Background(), "600000.SH", "2024-01-02", 5)

	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "headline", items[0].Title)
	assert.Contains(t, capturedQuery, "limit=5")
}

func TestMarketDataClient_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewMarketDataClient(server.URL, "")
	_, err := client.GetBasicInfo(context.Background(), "600000.SH")

	require.Error(t, err)
}

func TestMarketDataClient_NotFoundIsDataMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewMarketDataClient(server.URL, "")
	_, err := client.GetBasicInfo(context.Background(), "600000.SH")

	require.Error(t, err)
}

func TestLLMClient_Complete_ReturnsFirstChoiceContent(t *testing.T) {
	var capturedModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		capturedModel = req.Model

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"role": "assistant", "content": "buy 600000.SH"}},
			},
		})
	}))
	defer server.Close()

	client := NewLLMClient("openai", "gpt-test", "key", server.URL)
	reply, err := client.Complete(context.Background(), "what should I trade today?")

	require.NoError(t, err)
	assert.Equal(t, "buy 600000.SH", reply)
	assert.Equal(t, "gpt-test", capturedModel)
}

func TestLLMClient_EmptyChoicesIsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"choices": []map[string]interface{}{}})
	}))
	defer server.Close()

	client := NewLLMClient("openai", "gpt-test", "key", server.URL)
	_, err := client.Complete(context.Background(), "prompt")

	require.Error(t, err)
}

func TestLLMClient_RateLimitIsQuotaExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"message": "rate limited", "code": "1113"},
		})
	}))
	defer server.Close()

	client := NewLLMClient("openai", "gpt-test", "key", server.URL)
	_, err := client.Complete(context.Background(), "prompt")

	require.Error(t, err)
}

func TestLLMClient_FallsBackToProviderDefaultURL(t *testing.T) {
	client := NewLLMClient("deepseek", "deepseek-chat", "key", "")
	assert.Equal(t, "https://api.deepseek.com/v1", client.baseURL)
}

func TestLoadWhitelist_EmptyPathYieldsEmptyWhitelist(t *testing.T) {
	w, err := LoadWhitelist("")
	require.NoError(t, err)
	assert.Empty(t, w.Codes())
}

func TestLoadWhitelist_SkipsBlankAndCommentLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "whitelist.txt")
	content := "600000.SH\n\n# comment\n000001.SZ\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	w, err := LoadWhitelist(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"600000.SH", "000001.SZ"}, w.Codes())
}

func TestLoadWhitelist_MissingFileErrors(t *testing.T) {
	_, err := LoadWhitelist(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
