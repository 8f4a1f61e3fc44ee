package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpt/chatdesk/internal/infra"
	"github.com/fpt/chatdesk/internal/session"
	"github.com/fpt/chatdesk/pkg/chat/domain"
	"github.com/fpt/chatdesk/pkg/logger"
)

func savedGateway(t *testing.T) (*Gateway, *infra.InMemoryStateRepository) {
	t.Helper()
	repo := infra.NewInMemoryStateRepository()
	gw := NewGateway(repo, logger.Discard())
	require.True(t, gw.Save(context.Background(), buildStore(t, 2, 1), Selection{Credential: "k", Provider: domain.ProviderOllama, Model: "llama3.2:latest"}).Saved)
	return gw, repo
}

func TestRestoreFlowFresh(t *testing.T) {
	flow := NewRestoreFlow(NewGateway(infra.NewInMemoryStateRepository(), logger.Discard()), logger.Discard())
	st, err := flow.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RestoreFresh, st)
	assert.True(t, st.Terminal())

	var terr *TransitionError
	assert.ErrorAs(t, flow.Offer(time.Second, nil), &terr)
}

func TestRestoreFlowAccept(t *testing.T) {
	gw, _ := savedGateway(t)
	flow := NewRestoreFlow(gw, logger.Discard())

	st, err := flow.Check(context.Background())
	require.NoError(t, err)
	require.Equal(t, RestoreFound, st)
	require.NoError(t, flow.Offer(time.Minute, nil))
	assert.Equal(t, RestoreOffered, flow.State())

	store := session.NewStore(logger.Discard())
	ps, err := flow.Accept(store)
	require.NoError(t, err)
	assert.Equal(t, RestoreRestored, flow.State())
	assert.Equal(t, 2, store.Len())
	assert.NotEmpty(t, store.ActiveID())
	assert.Equal(t, "k", ps.Credential)
	assert.Equal(t, "ollama", ps.SelectedProvider)

	_, err = flow.Accept(store)
	assert.Error(t, err)
}

func TestRestoreFlowDecline(t *testing.T) {
	gw, repo := savedGateway(t)
	flow := NewRestoreFlow(gw, logger.Discard())
	_, err := flow.Check(context.Background())
	require.NoError(t, err)
	require.NoError(t, flow.Offer(time.Minute, nil))

	require.NoError(t, flow.Decline(context.Background()))
	assert.Equal(t, RestoreDiscarded, flow.State())
	_, err = repo.Load(context.Background())
	assert.Error(t, err)
}

func TestRestoreFlowTimeoutDismisses(t *testing.T) {
	gw, repo := savedGateway(t)
	flow := NewRestoreFlow(gw, logger.Discard())
	_, err := flow.Check(context.Background())
	require.NoError(t, err)

	dismissed := make(chan struct{})
	start := time.Now()
	require.NoError(t, flow.Offer(20*time.Millisecond, func() { close(dismissed) }))
	assert.Less(t, time.Since(start), 20*time.Millisecond, "Offer must not block")

	select {
	case <-dismissed:
	case <-time.After(2 * time.Second):
		t.Fatal("offer was not dismissed")
	}
	assert.Equal(t, RestoreDismissed, flow.State())

	// saved data stays for the next start
	_, err = repo.Load(context.Background())
	assert.NoError(t, err)

	var terr *TransitionError
	_, err = flow.Accept(session.NewStore(logger.Discard()))
	assert.ErrorAs(t, err, &terr)
}
