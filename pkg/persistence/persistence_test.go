package persistence

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type accountState struct {
	Peak    float64 `json:"peak"`
	Streak  int     `json:"streak"`
	Reasons []string
}

type holder struct {
	State   accountState  `persistence:"risk_state"`
	History []float64     `persistence:"history"`
	Latest  *accountState `persistence:"latest"`
	Nested  struct {
		Counter int `persistence:"counter"`
	}
	Ignored int
}

func services(t *testing.T) map[string]Service {
	t.Helper()
	bs, err := OpenBadgerService(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })
	return map[string]Service{
		"json":   NewJSONFileService(t.TempDir()),
		"badger": bs,
	}
}

func TestStore_RoundTripAndMissing(t *testing.T) {
	for name, svc := range services(t) {
		t.Run(name, func(t *testing.T) {
			store := svc.NewStore("state", "acct-1", "risk")

			var got accountState
			assert.ErrorIs(t, store.Load(&got), ErrNotExists)

			want := accountState{Peak: 1_000_000, Streak: 2, Reasons: []string{"a"}}
			require.NoError(t, store.Save(want))
			require.NoError(t, store.Load(&got))
			assert.Equal(t, want, got)
		})
	}
}

func TestFields_SaveLoad(t *testing.T) {
	for name, svc := range services(t) {
		t.Run(name, func(t *testing.T) {
			src := &holder{
				State:   accountState{Peak: 5, Streak: 1},
				History: []float64{0.1, 0.2},
				Latest:  &accountState{Peak: 7},
				Ignored: 42,
			}
			src.Nested.Counter = 3
			require.NoError(t, SaveFields(src, "acct-1", svc))

			dst := &holder{}
			require.NoError(t, LoadFields(dst, "acct-1", svc))
			assert.Equal(t, src.State, dst.State)
			assert.Equal(t, src.History, dst.History)
			require.NotNil(t, dst.Latest)
			assert.Equal(t, 7.0, dst.Latest.Peak)
			assert.Equal(t, 3, dst.Nested.Counter)
			assert.Zero(t, dst.Ignored)

			// 其它账户无数据时保持零值
			other := &holder{}
			require.NoError(t, LoadFields(other, "acct-2", svc))
			assert.Nil(t, other.History)
		})
	}
}

func TestJSONFileStore_SanitizesFileName(t *testing.T) {
	dir := t.TempDir()
	svc := NewJSONFileService(dir)
	require.NoError(t, svc.NewStore("state", "acct/1 main", "risk").Save(map[string]int{"x": 1}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	name := entries[0].Name()
	assert.Equal(t, "state_acct_1_main_risk.json", name)
	assert.False(t, strings.HasSuffix(name, ".tmp"))
	_, err = os.Stat(filepath.Join(dir, name))
	assert.NoError(t, err)
}

func TestFields_RejectsNonStruct(t *testing.T) {
	n := 1
	assert.Error(t, SaveFields(&n, "x", NewJSONFileService(t.TempDir())))
}

func TestParseEncryptionKey(t *testing.T) {
	k, err := ParseEncryptionKey("")
	require.NoError(t, err)
	assert.Nil(t, k)

	hexKey := strings.Repeat("ab", 32)
	k, err = ParseEncryptionKey("0x" + hexKey)
	require.NoError(t, err)
	assert.Len(t, k, 32)

	k, err = ParseEncryptionKey("MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=")
	require.NoError(t, err)
	assert.Len(t, k, 32)

	_, err = ParseEncryptionKey("abcd")
	assert.Error(t, err)
	_, err = ParseEncryptionKey("not a key!")
	assert.Error(t, err)
}

func TestBadgerService_Encrypted(t *testing.T) {
	key, err := ParseEncryptionKey(strings.Repeat("01", 32))
	require.NoError(t, err)
	svc, err := OpenBadgerService(BadgerOptions{Path: t.TempDir(), EncryptionKey: key})
	require.NoError(t, err)
	defer svc.Close()

	store := svc.NewStore("state", "acct", "params")
	require.NoError(t, store.Save([]int{1, 2, 3}))
	var got []int
	require.NoError(t, store.Load(&got))
	assert.Equal(t, []int{1, 2, 3}, got)
}
