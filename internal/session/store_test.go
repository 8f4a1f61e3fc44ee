package session

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpt/chatdesk/pkg/chat/chattest"
	"github.com/fpt/chatdesk/pkg/chat/domain"
)

func TestStoreCreateArchivesNonEmptySession(t *testing.T) {
	store := newTestStore()
	first := store.Create(domain.ProviderOpenAI, "gpt-4o")
	_, err := first.SendTurn(context.Background(), "hello", &chattest.Provider{}, domain.DefaultGenerationConfig())
	require.NoError(t, err)

	second := store.Create(domain.ProviderOpenAI, "gpt-4o")
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, second.ID(), store.ActiveID())

	_, ok := store.Get(first.ID())
	assert.True(t, ok)
}

func TestStoreCreateReplacesEmptySession(t *testing.T) {
	store := newTestStore()
	first := store.Create(domain.ProviderOpenAI, "gpt-4o")
	second := store.Create(domain.ProviderOpenAI, "gpt-4o")

	assert.Equal(t, 1, store.Len())
	_, ok := store.Get(first.ID())
	assert.False(t, ok)
	assert.Equal(t, second.ID(), store.ActiveID())
	assert.True(t, strings.HasSuffix(second.ID(), "-2"))
}

func TestStoreSwitchTo(t *testing.T) {
	store := newTestStore()
	s1 := store.Create(domain.ProviderOpenAI, "gpt-4o")
	_, err := s1.SendTurn(context.Background(), "one", &chattest.Provider{}, domain.DefaultGenerationConfig())
	require.NoError(t, err)
	s2 := store.Create(domain.ProviderOpenAI, "gpt-4o")
	_, err = s2.SendTurn(context.Background(), "two", &chattest.Provider{}, domain.DefaultGenerationConfig())
	require.NoError(t, err)

	got, err := store.SwitchTo(s1.ID())
	require.NoError(t, err)
	assert.Equal(t, s1, got)
	assert.Equal(t, s1.ID(), store.ActiveID())
	assert.Equal(t, "one", store.Active().Messages()[0].Content())

	_, err = store.SwitchTo("missing")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.ID)
	assert.Equal(t, s1.ID(), store.ActiveID())
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore()
	s1 := store.Create(domain.ProviderOpenAI, "gpt-4o")

	require.NoError(t, store.Delete(s1.ID()))
	assert.Nil(t, store.Active())
	assert.Empty(t, store.ActiveID())
	assert.Zero(t, store.Len())

	var nf *NotFoundError
	assert.ErrorAs(t, store.Delete(s1.ID()), &nf)
}

func TestStoreListOrdersNewestFirst(t *testing.T) {
	store := newTestStore()
	var ids []string
	for _, text := range []string{"a", "b", "c"} {
		s := store.Create(domain.ProviderOpenAI, "gpt-4o")
		_, err := s.SendTurn(context.Background(), text, &chattest.Provider{}, domain.DefaultGenerationConfig())
		require.NoError(t, err)
		ids = append(ids, s.ID())
	}

	list := store.List()
	require.Len(t, list, 3)
	assert.Equal(t, ids[2], list[0].ID)
	assert.True(t, list[0].Active)
	assert.False(t, list[2].Active)
	assert.Equal(t, 3, store.ConversationCount())
}

func TestStoreReplace(t *testing.T) {
	src := newTestStore()
	a := src.Create(domain.ProviderOpenAI, "gpt-4o")
	_, err := a.SendTurn(context.Background(), "a", &chattest.Provider{}, domain.DefaultGenerationConfig())
	require.NoError(t, err)
	b := src.Create(domain.ProviderGemini, "gemini-2.5-flash")
	_, err = b.SendTurn(context.Background(), "b", &chattest.Provider{ID: domain.ProviderGemini}, domain.DefaultGenerationConfig())
	require.NoError(t, err)

	states, active, counter := src.Snapshot()
	dst := newTestStore()
	require.NoError(t, dst.Replace(states, active, counter))
	assert.Equal(t, 2, dst.Len())
	assert.Equal(t, b.ID(), dst.ActiveID())
	assert.Equal(t, 2, dst.Counter())

	// a dangling active id leaves nothing active
	require.NoError(t, dst.Replace(states, "gone", 0))
	assert.Empty(t, dst.ActiveID())
	assert.Nil(t, dst.Active())
	assert.Equal(t, 2, dst.Counter())

	require.NoError(t, dst.Replace(states, "", counter))
	assert.Empty(t, dst.ActiveID())
}

func TestStoreMerge(t *testing.T) {
	src := newTestStore()
	a := src.Create(domain.ProviderOpenAI, "gpt-4o")
	_, err := a.SendTurn(context.Background(), "saved", &chattest.Provider{}, domain.DefaultGenerationConfig())
	require.NoError(t, err)
	states, active, counter := src.Snapshot()

	t.Run("live conversation stays active", func(t *testing.T) {
		dst := newTestStore()
		live := dst.Create(domain.ProviderOpenAI, "gpt-4o")
		_, err := live.SendTurn(context.Background(), "live", &chattest.Provider{}, domain.DefaultGenerationConfig())
		require.NoError(t, err)

		added, err := dst.Merge(states, active, counter)
		require.NoError(t, err)
		assert.Equal(t, 1, added)
		assert.Equal(t, 2, dst.Len())
		assert.Equal(t, live.ID(), dst.ActiveID())
		assert.Equal(t, "live", dst.Active().Messages()[0].Content())

		added, err = dst.Merge(states, active, counter)
		require.NoError(t, err)
		assert.Zero(t, added, "known ids are skipped")
	})

	t.Run("blank conversation gives way", func(t *testing.T) {
		dst := newTestStore()
		blank := dst.Create(domain.ProviderOpenAI, "gpt-4o")

		added, err := dst.Merge(states, active, counter)
		require.NoError(t, err)
		assert.Equal(t, 1, added)
		assert.Equal(t, a.ID(), dst.ActiveID())
		_, ok := dst.Get(blank.ID())
		assert.False(t, ok)
	})

	t.Run("empty store takes the saved active", func(t *testing.T) {
		dst := newTestStore()
		_, err := dst.Merge(states, active, counter)
		require.NoError(t, err)
		assert.Equal(t, a.ID(), dst.ActiveID())
		assert.Equal(t, counter, dst.Counter())
	})

	t.Run("no saved active", func(t *testing.T) {
		dst := newTestStore()
		_, err := dst.Merge(states, "", counter)
		require.NoError(t, err)
		assert.Empty(t, dst.ActiveID())
	})
}
