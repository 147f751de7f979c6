package dialogue

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goals-telegram/internal/identity"
	"goals-telegram/internal/storage"
	"goals-telegram/pkg/store"
)

// TestScenario_FirstContactToGoal walks a chat from first contact through
// linking to a created goal against a real database.
func TestScenario_FirstContactToGoal(t *testing.T) {
	backends := map[string]func() store.Store{
		"memory": func() store.Store { return store.NewMemoryStore() },
		"redis": func() store.Store {
			return store.NewRedisStore(store.NewInMemoryRedisClient(), store.DefaultSessionTTL)
		},
	}
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			db, err := storage.Open(ctx, "sqlite", fmt.Sprintf("file:scenario_%s?mode=memory&cache=shared", name))
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			require.NoError(t, db.EnsureSchema(ctx))

			accounts := storage.NewAccountStore(db)
			goals := storage.NewGoalStore(db)
			idents := storage.NewIdentityStore(db)
			resolver := identity.NewResolver(idents, nil)
			sessions := newStore()
			tg := &recordingMessenger{}
			engine := NewEngine(sessions, goals, resolver, tg)

			acc, err := accounts.Create(ctx, "alice", "pw")
			require.NoError(t, err)
			board, err := goals.CreateBoard(ctx, "Personal", acc.ID)
			require.NoError(t, err)
			work, err := goals.CreateCategory(ctx, board, acc.ID, "Work")
			require.NoError(t, err)

			handle := func(text string) {
				ident, _, err := resolver.ResolveOrCreate(ctx, 555, "alice_tg")
				require.NoError(t, err)
				require.NoError(t, engine.Handle(ctx, ident, text))
			}

			handle("hello")
			reply := tg.texts()[0]
			require.True(t, strings.HasPrefix(reply, "Your verification code: "), reply)
			code := strings.TrimPrefix(reply, "Your verification code: ")
			assert.Len(t, code, 32)

			ident, err := idents.GetByChatID(ctx, 555)
			require.NoError(t, err)
			assert.False(t, ident.Account.Linked())
			assert.Equal(t, code, ident.VerificationCode)

			found, err := idents.GetByVerificationCode(ctx, code)
			require.NoError(t, err)
			require.NoError(t, idents.Link(ctx, found.ChatID, acc.ID))

			handle("/create")
			assert.Equal(t, fmt.Sprintf("Select a category:\n№%d - Work", work.ID), tg.texts()[1])
			st, _ := sessions.GetState(ctx, 555)
			assert.Equal(t, store.StateAwaitingCategory, st)

			handle(fmt.Sprint(work.ID))
			assert.Equal(t, MsgCategorySelected, tg.texts()[2])
			st, _ = sessions.GetState(ctx, 555)
			assert.Equal(t, store.StateAwaitingTitle, st)
			data, _ := sessions.GetData(ctx, 555)
			assert.Equal(t, work.ID, data[store.KeyCategoryID])

			handle("Buy milk")
			assert.Equal(t, "New goal created: Buy milk", tg.texts()[3])
			st, _ = sessions.GetState(ctx, 555)
			assert.Equal(t, store.StateNone, st)

			list, err := goals.ListGoals(ctx, acc.ID)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "Buy milk", list[0].Title)
			assert.Equal(t, work.ID, list[0].CategoryID)

			handle("/goals")
			assert.Equal(t, fmt.Sprintf("№%d - Buy milk", list[0].ID), tg.texts()[4])
		})
	}
}
