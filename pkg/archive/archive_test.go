package archive

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sighting(hash string, btc float64, observed time.Time) Sighting {
	return Sighting{
		Hash:           hash,
		AmountBTC:      btc,
		AmountUSD:      btc * 45000,
		FromAddress:    "bc1qsender",
		ToAddress:      "bc1qreceiver",
		Classification: "exchange_deposit",
		Description:    "potential sell pressure",
		ObservedAt:     observed,
	}
}

func TestInsertAndRecent(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()

	for i, h := range []string{"aaa", "bbb", "ccc"} {
		ok, err := s.Insert(sighting(h, float64(100+i), now.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
		assert.True(t, ok)
	}

	recent, err := s.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "ccc", recent[0].Hash)
	assert.Equal(t, "bbb", recent[1].Hash)
	assert.Equal(t, 101.0, recent[1].AmountBTC)
	assert.Equal(t, "exchange_deposit", recent[0].Classification)
}

func TestInsertDeduplicatesByHash(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()

	ok, err := s.Insert(sighting("dupe", 150, now))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Insert(sighting("dupe", 150, now.Add(time.Minute)))
	require.NoError(t, err)
	assert.False(t, ok, "second insert of same hash should be ignored")

	st, err := s.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Total)
}

func TestLinkJob(t *testing.T) {
	s := testStore(t)

	_, err := s.Insert(sighting("abc123", 200, time.Now().UTC()))
	require.NoError(t, err)

	require.NoError(t, s.LinkJob("abc123", "1724580000000-deadbeef"))

	recent, err := s.Recent(1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "1724580000000-deadbeef", recent[0].JobID)
}

func TestByAddress(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()

	a := sighting("tx1", 120, now)
	a.FromAddress = "1Whale"
	a.ToAddress = "1ExchA"
	b := sighting("tx2", 130, now.Add(time.Minute))
	b.FromAddress = "1ExchB"
	b.ToAddress = "1Whale"
	c := sighting("tx3", 140, now.Add(2*time.Minute))
	c.FromAddress = "1Other"
	c.ToAddress = "1Another"

	for _, sg := range []Sighting{a, b, c} {
		_, err := s.Insert(sg)
		require.NoError(t, err)
	}

	got, err := s.ByAddress("1Whale", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "tx2", got[0].Hash)
	assert.Equal(t, "tx1", got[1].Hash)
}

func TestGetStats(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()

	deposit := sighting("s1", 100, now)
	withdrawal := sighting("s2", 200, now.Add(time.Minute))
	withdrawal.Classification = "exchange_withdrawal"
	withdrawal2 := sighting("s3", 300, now.Add(2*time.Minute))
	withdrawal2.Classification = "exchange_withdrawal"

	for _, sg := range []Sighting{deposit, withdrawal, withdrawal2} {
		_, err := s.Insert(sg)
		require.NoError(t, err)
	}

	st, err := s.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Total)
	assert.InDelta(t, 600*45000.0, st.TotalUSD, 0.01)
	assert.Equal(t, int64(1), st.ByType["exchange_deposit"])
	assert.Equal(t, int64(2), st.ByType["exchange_withdrawal"])
}

func TestPrune(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()

	_, err := s.Insert(sighting("old", 100, now.Add(-40*24*time.Hour)))
	require.NoError(t, err)
	_, err = s.Insert(sighting("fresh", 100, now.Add(-time.Hour)))
	require.NoError(t, err)

	deleted, err := s.Prune(30 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	recent, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "fresh", recent[0].Hash)
}

func TestStatsOnEmptyArchive(t *testing.T) {
	s := testStore(t)

	st, err := s.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Total)
	assert.Equal(t, 0.0, st.TotalUSD)
	assert.Empty(t, st.ByType)
}
