package relay_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Tyrowin/chatrelay/internal/mocks"
	"github.com/Tyrowin/chatrelay/internal/relay"
	"github.com/Tyrowin/chatrelay/internal/store"
)

func openSQLite(t *testing.T) store.Store {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "chat.db"), discardLogger(), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func decodeHistory(t *testing.T, frames [][]byte) []relay.HistoryFrame {
	t.Helper()
	decoded := make([]relay.HistoryFrame, 0, len(frames))
	for _, f := range frames {
		var h relay.HistoryFrame
		require.NoError(t, json.Unmarshal(f, &h))
		decoded = append(decoded, h)
	}
	return decoded
}

func TestHistoryLoader_Empty_Store_Sends_Nothing(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	subscribers := mocks.NewMockSubscriber(ctrl)
	loader := relay.NewHistoryLoader(discardLogger(), openSQLite(t), subscribers, &sync.Mutex{}, relay.DefaultHistoryLimit)
	conn := newFakeConn()

	subscribers.EXPECT().Add(conn).Times(1)

	req.Equal(0, loader.Join(context.Background(), conn))
	req.Empty(conn.Frames())
}

func TestHistoryLoader_Replays_Last_Twenty_Oldest_First(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	st := openSQLite(t)
	subscribers := mocks.NewMockSubscriber(ctrl)
	loader := relay.NewHistoryLoader(discardLogger(), st, subscribers, &sync.Mutex{}, relay.DefaultHistoryLimit)

	// Given 25 prior messages
	for i := 1; i <= 25; i++ {
		_, err := st.Append(context.Background(), fmt.Sprintf("user_%d", i), fmt.Sprintf("Message %d", i))
		req.NoError(err)
	}
	conn := newFakeConn()
	subscribers.EXPECT().Add(conn).Times(1)

	// When a client connects
	sent := loader.Join(context.Background(), conn)

	// Then it receives entries 6 to 25
	req.Equal(20, sent)
	frames := decodeHistory(t, conn.Frames())
	req.Len(frames, 20)
	for i, f := range frames {
		req.Equal(int64(i+6), f.ID)
		req.Equal(fmt.Sprintf("user_%d", i+6), f.Author)
		req.Equal(fmt.Sprintf("Message %d", i+6), f.Text)
		_, err := time.Parse(time.RFC3339Nano, f.Timestamp)
		req.NoError(err)
	}
}

func TestHistoryLoader_Store_Failure_Still_Registers(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	mockStore := mocks.NewMockStore(ctrl)
	subscribers := mocks.NewMockSubscriber(ctrl)
	loader := relay.NewHistoryLoader(discardLogger(), mockStore, subscribers, &sync.Mutex{}, relay.DefaultHistoryLimit)
	conn := newFakeConn()

	gomock.InOrder(
		mockStore.EXPECT().Recent(gomock.Any(), relay.DefaultHistoryLimit).
			Return(nil, fmt.Errorf("%w: recent: %w", store.ErrStore, errors.New("i/o error"))),
		subscribers.EXPECT().Add(conn),
	)

	req.Equal(0, loader.Join(context.Background(), conn))
	req.Empty(conn.Frames())
}

func TestHistoryLoader_History_Precedes_Live_Traffic(t *testing.T) {
	req := require.New(t)
	st := openSQLite(t)
	registry := startRegistry(t)
	gate := &sync.Mutex{}
	engine := relay.NewEngine(discardLogger(), st, registry, gate)
	loader := relay.NewHistoryLoader(discardLogger(), st, registry, gate, relay.DefaultHistoryLimit)

	sender := newFakeConn()
	loader.Join(context.Background(), sender)
	req.NoError(engine.Handle(context.Background(), sender.ID(), []byte(`{"author":"a","text":"before"}`)))

	// When a new client joins and another message follows
	late := newFakeConn()
	req.Equal(1, loader.Join(context.Background(), late))
	live := []byte(`{"author":"a","text":"after"}`)
	req.NoError(engine.Handle(context.Background(), sender.ID(), live))

	// Then the replay comes first, then the live frame
	frames := late.Frames()
	req.Len(frames, 2)
	history := decodeHistory(t, frames[:1])
	req.Equal("before", history[0].Text)
	req.Equal(live, frames[1])
}

// Messages sent while clients keep joining reach each joiner exactly once,
// either in its replay or live, and in append order.
func TestHistoryLoader_Join_During_Traffic_Sees_Every_Message_Once(t *testing.T) {
	req := require.New(t)
	st := openSQLite(t)
	registry := startRegistry(t)
	gate := &sync.Mutex{}
	const total = 60
	engine := relay.NewEngine(discardLogger(), st, registry, gate)
	loader := relay.NewHistoryLoader(discardLogger(), st, registry, gate, total)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= total; i++ {
			payload := fmt.Sprintf(`{"author":"bot","text":"m%d"}`, i)
			if err := engine.Handle(context.Background(), "bot", []byte(payload)); err != nil {
				t.Errorf("message %d: %v", i, err)
				return
			}
		}
	}()

	joiners := make([]*fakeConn, 0, 10)
	for i := 0; i < 10; i++ {
		c := newFakeConn()
		loader.Join(context.Background(), c)
		joiners = append(joiners, c)
		time.Sleep(time.Millisecond)
	}
	wg.Wait()

	for _, c := range joiners {
		texts := make([]string, 0, total)
		for _, f := range c.Frames() {
			var frame struct {
				Text string `json:"text"`
			}
			req.NoError(json.Unmarshal(f, &frame))
			texts = append(texts, frame.Text)
		}
		req.Len(texts, total)
		for i, text := range texts {
			req.Equal(fmt.Sprintf("m%d", i+1), text)
		}
	}
}
