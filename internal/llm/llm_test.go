package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	responses []string
	errs      []error
	calls     int
}

func (c *stubClient) Complete(ctx context.Context, prompt string) (string, error) {
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	return c.responses[i], nil
}

func TestInvokeSucceedsFirstTry(t *testing.T) {
	c := &stubClient{responses: []string{"ok"}, errs: []error{nil}}
	out, err := Invoke(context.Background(), c, "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestInvokeRetriesTransientFailures(t *testing.T) {
	c := &stubClient{
		responses: []string{"", "", "ok"},
		errs:      []error{errors.New("timeout"), errors.New("timeout"), nil},
	}
	backoff = []time.Duration{0, 0, 0}
	out, err := Invoke(context.Background(), c, "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, c.calls)
}

func TestInvokeShortCircuitsOnQuotaExhaustion(t *testing.T) {
	c := &stubClient{responses: []string{""}, errs: []error{errors.New("insufficient balance")}}
	_, err := Invoke(context.Background(), c, "hi")
	require.Error(t, err)
	assert.True(t, isQuotaExhausted(errors.New("insufficient balance")))
	assert.Equal(t, 1, c.calls)
}

func TestExtractJSONWholeString(t *testing.T) {
	raw, err := ExtractJSON(`{"action":"buy"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"buy"}`, string(raw))
}

func TestExtractJSONFencedBlock(t *testing.T) {
	raw, err := ExtractJSON("Here is my decision:\n```json\n{\"action\":\"sell\"}\n```\nThanks.")
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"sell"}`, string(raw))
}

func TestExtractJSONBalancedScan(t *testing.T) {
	raw, err := ExtractJSON(`I think {"action":"hold","note":"contains } and { chars"} is best.`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"hold","note":"contains } and { chars"}`, string(raw))
}

func TestExtractJSONNoneFound(t *testing.T) {
	_, err := ExtractJSON("no json here at all")
	require.Error(t, err)
}
