package store

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// storeContract exercises the behaviour every Store backend must share.
func storeContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("unseen chat has no state and empty data", func(t *testing.T) {
		s := newStore(t)
		st, err := s.GetState(ctx, 1)
		if err != nil {
			t.Fatalf("GetState error: %v", err)
		}
		if st != StateNone {
			t.Fatalf("state = %v, want none", st)
		}
		data, err := s.GetData(ctx, 1)
		if err != nil {
			t.Fatalf("GetData error: %v", err)
		}
		if data == nil || len(data) != 0 {
			t.Fatalf("data = %#v, want empty map", data)
		}
	})

	t.Run("set then get state", func(t *testing.T) {
		s := newStore(t)
		if err := s.SetState(ctx, 2, StateAwaitingTitle); err != nil {
			t.Fatalf("SetState error: %v", err)
		}
		st, err := s.GetState(ctx, 2)
		if err != nil || st != StateAwaitingTitle {
			t.Fatalf("GetState = %v, %v; want awaiting_title", st, err)
		}
	})

	t.Run("set data replaces and merge keeps other keys", func(t *testing.T) {
		s := newStore(t)
		if err := s.SetData(ctx, 3, Data{KeyCategoryID: nil, KeyGoalTitle: nil}); err != nil {
			t.Fatalf("SetData error: %v", err)
		}
		if err := s.MergeData(ctx, 3, Data{KeyCategoryID: int64(7)}); err != nil {
			t.Fatalf("MergeData error: %v", err)
		}
		data, err := s.GetData(ctx, 3)
		if err != nil {
			t.Fatalf("GetData error: %v", err)
		}
		if got := data[KeyCategoryID]; got != int64(7) {
			t.Fatalf("category_id = %#v, want int64(7)", got)
		}
		if v, ok := data[KeyGoalTitle]; !ok || v != nil {
			t.Fatalf("goal_title = %#v (present=%v), want present nil", v, ok)
		}

		if err := s.SetData(ctx, 3, Data{KeyGoalTitle: "Buy milk"}); err != nil {
			t.Fatalf("SetData error: %v", err)
		}
		data, _ = s.GetData(ctx, 3)
		if _, ok := data[KeyCategoryID]; ok {
			t.Fatalf("SetData must replace, got %#v", data)
		}
		if data[KeyGoalTitle] != "Buy milk" {
			t.Fatalf("goal_title = %#v", data[KeyGoalTitle])
		}
	})

	t.Run("returned data is a copy", func(t *testing.T) {
		s := newStore(t)
		_ = s.SetData(ctx, 4, Data{KeyGoalTitle: "a"})
		data, _ := s.GetData(ctx, 4)
		data[KeyGoalTitle] = "mutated"
		again, _ := s.GetData(ctx, 4)
		if again[KeyGoalTitle] != "a" {
			t.Fatalf("store leaked its map: %#v", again)
		}
	})

	t.Run("destroy is idempotent and reports existence", func(t *testing.T) {
		s := newStore(t)
		_ = s.SetState(ctx, 5, StateAwaitingCategory)
		_ = s.SetData(ctx, 5, Data{KeyCategoryID: int64(1)})

		existed, err := s.Destroy(ctx, 5)
		if err != nil || !existed {
			t.Fatalf("first Destroy = %v, %v; want true", existed, err)
		}
		existed, err = s.Destroy(ctx, 5)
		if err != nil || existed {
			t.Fatalf("second Destroy = %v, %v; want false", existed, err)
		}
		st, _ := s.GetState(ctx, 5)
		data, _ := s.GetData(ctx, 5)
		if st != StateNone || len(data) != 0 {
			t.Fatalf("after destroy state=%v data=%#v", st, data)
		}
	})

	t.Run("chats are independent", func(t *testing.T) {
		s := newStore(t)
		_ = s.SetState(ctx, 10, StateAwaitingCategory)
		_ = s.SetState(ctx, 11, StateAwaitingTitle)
		_, _ = s.Destroy(ctx, 10)
		st, _ := s.GetState(ctx, 11)
		if st != StateAwaitingTitle {
			t.Fatalf("chat 11 state = %v", st)
		}
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStore_ConcurrentChats(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := int64(0); i < 50; i++ {
		wg.Add(1)
		go func(chatID int64) {
			defer wg.Done()
			_ = s.SetState(ctx, chatID, StateAwaitingCategory)
			_ = s.MergeData(ctx, chatID, Data{KeyCategoryID: chatID})
			_, _ = s.GetData(ctx, chatID)
		}(i)
	}
	wg.Wait()

	for i := int64(0); i < 50; i++ {
		data, _ := s.GetData(ctx, i)
		if data[KeyCategoryID] != i {
			t.Fatalf("chat %d data = %#v", i, data)
		}
	}
}

func TestStateStringRoundTrip(t *testing.T) {
	for _, st := range []State{StateNone, StateAwaitingCategory, StateAwaitingTitle} {
		got, err := ParseState(st.String())
		if err != nil || got != st {
			t.Fatalf("ParseState(%q) = %v, %v", st.String(), got, err)
		}
	}
	if _, err := ParseState("bogus"); !errors.Is(err, ErrUnknownState) {
		t.Fatalf("ParseState(bogus) err = %v", err)
	}
	if got := State(9).String(); got != "State(9)" {
		t.Fatalf("unknown state string = %q", got)
	}
}
