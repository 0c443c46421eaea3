package marketdata

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/arena-engine/internal/domain"
)

type stubUpstream struct {
	barCalls int32
	bars     map[string]domain.Bar
	info     map[string]domain.BasicInfo
	hotCodes []string
}

func (u *stubUpstream) GetBar(ctx context.Context, code, date string) (domain.Bar, error) {
	atomic.AddInt32(&u.barCalls, 1)
	return u.bars[code+"|"+date], nil
}
func (u *stubUpstream) GetCalendar(ctx context.Context, start, end string) ([]string, error) {
	return []string{"20240102", "20240103"}, nil
}
func (u *stubUpstream) GetBasicInfo(ctx context.Context, code string) (domain.BasicInfo, error) {
	return u.info[code], nil
}
func (u *stubUpstream) GetHotPool(ctx context.Context, date string) ([]string, []domain.HotSector, error) {
	return u.hotCodes, nil, nil
}

type stubWhitelist struct{ codes []string }

func (w stubWhitelist) Codes() []string { return w.codes }

func TestGetBarCachesAcrossCalls(t *testing.T) {
	up := &stubUpstream{bars: map[string]domain.Bar{"600000|20240102": {Close: 10}}}
	p := New(up, nil, 0)

	b1, err := p.GetBar(context.Background(), "600000", "20240102")
	require.NoError(t, err)
	b2, err := p.GetBar(context.Background(), "600000", "20240102")
	require.NoError(t, err)

	assert.Equal(t, b1, b2)
	assert.Equal(t, int32(1), up.barCalls)
}

func TestPreloadBuildsPoolDroppingSTAndZeroVolume(t *testing.T) {
	up := &stubUpstream{
		bars: map[string]domain.Bar{
			"600000|20240102": {Close: 10, Volume: 100},
			"600001|20240102": {Close: 0, Volume: 100},
			"600002|20240102": {Close: 10, Volume: 0},
		},
		info: map[string]domain.BasicInfo{
			"600000": {Code: "600000", Name: "A"},
			"600001": {Code: "600001", Name: "B"},
			"600002": {Code: "600002", Name: "C", IsST: true},
		},
		hotCodes: []string{"600000"},
	}
	p := New(up, stubWhitelist{codes: []string{"600000", "600001", "600002"}}, 0)

	require.NoError(t, p.Preload(context.Background(), "20240102"))

	pool, err := p.CandidatePool("20240102")
	require.NoError(t, err)
	require.Len(t, pool.Candidates, 1)
	assert.Equal(t, "600000", pool.Candidates[0].Code)
	assert.Equal(t, domain.PoolSourcePreload, pool.Source)
}

func TestCandidatePoolFallsBackWhenPreloadNeverRan(t *testing.T) {
	up := &stubUpstream{
		bars: map[string]domain.Bar{"600000|20240102": {Close: 10, Volume: 100}},
		info: map[string]domain.BasicInfo{"600000": {Code: "600000", Name: "A"}},
	}
	p := New(up, stubWhitelist{codes: []string{"600000"}}, 0)

	pool, err := p.CandidatePool("20240102")
	require.NoError(t, err)
	assert.Equal(t, domain.PoolSourceFallback, pool.Source)
	require.Len(t, pool.Candidates, 1)
}
