package app

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketchat/pkg/config"
	"marketchat/pkg/messages"
	"marketchat/pkg/models"
	"marketchat/pkg/store/keys"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func effectiveFor(t *testing.T, dbPath string) config.EffectiveConfigResult {
	t.Helper()
	fileCfg := &config.Config{}
	fileCfg.Server.Address = "127.0.0.1"
	fileCfg.Server.Port = freePort(t)
	fileCfg.Server.DBPath = dbPath
	fileCfg.Security.APIKeys.Backend = []string{"bk-app"}
	eff, err := config.LoadEffectiveConfig(config.Flags{Set: map[string]bool{}}, fileCfg, true)
	require.NoError(t, err)
	return eff
}

func shutdown(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	eff := effectiveFor(t, t.TempDir())
	eff.Config.Sweeper.Cron = "whenever"
	_, err := New(eff, "test")
	require.Error(t, err)
}

func TestRunRecoversPendingDeliveries(t *testing.T) {
	dbPath := t.TempDir()
	ctx := context.Background()

	// first process: the send is acknowledged but never delivered
	a, err := New(effectiveFor(t, dbPath), "test")
	require.NoError(t, err)
	require.NoError(t, a.dir.PutUser(ctx, &models.User{ID: "b1", Name: "Bea", Role: models.RoleBuyer}))
	require.NoError(t, a.dir.PutUser(ctx, &models.User{ID: "s1", Name: "Sol", Role: models.RoleSeller, CompanyID: "co1"}))
	require.NoError(t, a.dir.PutCompany(ctx, &models.Company{ID: "co1", Name: "Cebu Wire Works", OwnerID: "s1"}))
	conv, _, err := a.reg.ResolveOrCreate(ctx, "b1", "s1", "")
	require.NoError(t, err)
	_, err = a.msgs.Append(ctx, messages.AppendRequest{
		ConversationID: conv.ID, SenderID: "b1", Body: "is the cable in stock?", Type: models.MessageText,
	})
	require.NoError(t, err)
	pending, err := a.st.CountPrefix(keys.OutboxPrefix)
	require.NoError(t, err)
	require.Equal(t, 1, pending)
	shutdown(t, a)

	// second process drains the outbox on start
	b, err := New(effectiveFor(t, dbPath), "test")
	require.NoError(t, err)
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(runCtx) }()

	require.Eventually(t, func() bool {
		n, err := b.st.CountPrefix(keys.OutboxPrefix)
		return err == nil && n == 0
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	shutdown(t, b)
}
