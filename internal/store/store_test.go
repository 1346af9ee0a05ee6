package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type backend struct {
	driver string
	path   func(dir string) string
}

var backends = []backend{
	{DriverSQLite, func(dir string) string { return filepath.Join(dir, "chat.db") }},
	{DriverBadger, func(dir string) string { return filepath.Join(dir, "badger") }},
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openStore(t *testing.T, b backend, dir string, opts Options) Store {
	t.Helper()
	s, err := Open(b.driver, b.path(dir), discardLogger(), opts)
	require.NoError(t, err)
	return s
}

func appendN(t *testing.T, s Store, n int) []Message {
	t.Helper()
	appended := make([]Message, 0, n)
	for i := 1; i <= n; i++ {
		m, err := s.Append(context.Background(), fmt.Sprintf("user_%d", i), fmt.Sprintf("Message %d", i))
		require.NoError(t, err)
		appended = append(appended, m)
	}
	return appended
}

func Test_Append_Assigns_Strictly_Increasing_IDs(t *testing.T) {
	for _, b := range backends {
		t.Run(b.driver, func(t *testing.T) {
			req := require.New(t)
			s := openStore(t, b, t.TempDir(), Options{})
			defer s.Close()

			appended := appendN(t, s, 10)

			req.Equal(int64(1), appended[0].ID)
			for i := 1; i < len(appended); i++ {
				req.Greater(appended[i].ID, appended[i-1].ID)
				req.False(appended[i].CreatedAt.Before(appended[i-1].CreatedAt))
			}
			req.Equal("user_3", appended[2].Author)
			req.Equal("Message 3", appended[2].Text)
			req.False(appended[2].CreatedAt.IsZero())
		})
	}
}

func Test_Recent_Returns_Latest_Suffix_Oldest_First(t *testing.T) {
	for _, b := range backends {
		t.Run(b.driver, func(t *testing.T) {
			req := require.New(t)
			s := openStore(t, b, t.TempDir(), Options{})
			defer s.Close()

			// Given 25 messages were appended
			appendN(t, s, 25)

			// When the last 20 are requested
			recent, err := s.Recent(context.Background(), 20)
			req.NoError(err)

			// Then entries 6 to 25 come back in replay order
			req.Len(recent, 20)
			for i, m := range recent {
				req.Equal(int64(i+6), m.ID)
				req.Equal(fmt.Sprintf("user_%d", i+6), m.Author)
				if i > 0 {
					req.False(m.CreatedAt.Before(recent[i-1].CreatedAt))
				}
			}
		})
	}
}

func Test_Recent_On_Empty_Store(t *testing.T) {
	for _, b := range backends {
		t.Run(b.driver, func(t *testing.T) {
			req := require.New(t)
			s := openStore(t, b, t.TempDir(), Options{})
			defer s.Close()

			recent, err := s.Recent(context.Background(), 20)
			req.NoError(err)
			req.Empty(recent)
		})
	}
}

func Test_Recent_Limits(t *testing.T) {
	for _, b := range backends {
		t.Run(b.driver, func(t *testing.T) {
			req := require.New(t)
			s := openStore(t, b, t.TempDir(), Options{})
			defer s.Close()
			appended := appendN(t, s, 3)

			all, err := s.Recent(context.Background(), 50)
			req.NoError(err)
			req.Len(all, 3)
			for i := range all {
				req.Equal(appended[i].ID, all[i].ID)
				req.True(appended[i].CreatedAt.Equal(all[i].CreatedAt))
			}

			one, err := s.Recent(context.Background(), 1)
			req.NoError(err)
			req.Len(one, 1)
			req.Equal(appended[2].ID, one[0].ID)

			none, err := s.Recent(context.Background(), 0)
			req.NoError(err)
			req.Empty(none)

			huge, err := s.Recent(context.Background(), 1<<50)
			req.NoError(err)
			req.Len(huge, 3)
			req.Equal(appended[0].ID, huge[0].ID)
		})
	}
}

func Test_Messages_Survive_Reopen_Without_ID_Reuse(t *testing.T) {
	for _, b := range backends {
		t.Run(b.driver, func(t *testing.T) {
			req := require.New(t)
			dir := t.TempDir()

			s := openStore(t, b, dir, Options{})
			before := appendN(t, s, 3)
			req.NoError(s.Close())

			// When the store is opened again
			s = openStore(t, b, dir, Options{})
			defer s.Close()

			// Then history is intact
			recent, err := s.Recent(context.Background(), 10)
			req.NoError(err)
			req.Len(recent, 3)
			req.Equal(before[2].ID, recent[2].ID)

			// And new ids continue past the old ones
			m, err := s.Append(context.Background(), "alice", "after restart")
			req.NoError(err)
			req.Greater(m.ID, before[2].ID)
		})
	}
}

func Test_ReadOnly_Store_Reads_But_Refuses_Appends(t *testing.T) {
	for _, b := range backends {
		t.Run(b.driver, func(t *testing.T) {
			req := require.New(t)
			dir := t.TempDir()

			s := openStore(t, b, dir, Options{})
			appendN(t, s, 2)
			req.NoError(s.Close())

			ro := openStore(t, b, dir, Options{ReadOnly: true})
			defer ro.Close()

			recent, err := ro.Recent(context.Background(), 10)
			req.NoError(err)
			req.Len(recent, 2)

			_, err = ro.Append(context.Background(), "mallory", "nope")
			req.ErrorIs(err, ErrStore)
		})
	}
}

func Test_Badger_ReadOnly_Open_Fails_While_Writer_Holds_Directory(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "badger")

	writer, err := OpenBadger(path, discardLogger(), Options{})
	req.NoError(err)
	appendN(t, writer, 3)

	_, err = OpenBadger(path, discardLogger(), Options{ReadOnly: true})
	req.Error(err)

	// Once the writer is gone the directory opens for inspection.
	req.NoError(writer.Close())
	ro, err := OpenBadger(path, discardLogger(), Options{ReadOnly: true})
	req.NoError(err)
	defer ro.Close()

	recent, err := ro.Recent(context.Background(), 10)
	req.NoError(err)
	req.Len(recent, 3)
}

func Test_SQLite_ReadOnly_Open_Alongside_Writer(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "chat.db")

	writer, err := OpenSQLite(path, discardLogger(), Options{})
	req.NoError(err)
	defer writer.Close()
	appendN(t, writer, 2)

	ro, err := OpenSQLite(path, discardLogger(), Options{ReadOnly: true})
	req.NoError(err)
	defer ro.Close()

	recent, err := ro.Recent(context.Background(), 10)
	req.NoError(err)
	req.Len(recent, 2)
}

func Test_SQLite_Closed_Store_Reports_ErrStore(t *testing.T) {
	req := require.New(t)
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "chat.db"), discardLogger(), Options{})
	req.NoError(err)
	req.NoError(s.Close())

	_, err = s.Append(context.Background(), "alice", "hello")
	req.ErrorIs(err, ErrStore)

	_, err = s.Recent(context.Background(), 5)
	req.ErrorIs(err, ErrStore)
}

func Test_Open_Unknown_Driver(t *testing.T) {
	_, err := Open("postgres", t.TempDir(), discardLogger(), Options{})
	require.Error(t, err)
}
