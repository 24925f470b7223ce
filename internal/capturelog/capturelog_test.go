// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package capturelog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/screencap/internal/config"
)

func exerciseLog(t *testing.T, l Log) {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := l.Latest(ctx)
	assert.ErrorIs(t, err, ErrEmpty)

	var ids []int64
	for i := 0; i < 4; i++ {
		r, err := l.Append(ctx, Record{
			Name:        fmt.Sprintf("capture-%d.png", i),
			URL:         fmt.Sprintf("http://x/%d", i),
			ContentType: "image/png",
			Size:        100 + i,
			Width:       64,
			Height:      48,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		assert.NotZero(t, r.ID)
		ids = append(ids, r.ID)
	}

	n, err := l.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	recent, err := l.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "capture-3.png", recent[0].Name)
	assert.Equal(t, "capture-2.png", recent[1].Name)
	assert.True(t, recent[0].CreatedAt.Equal(base.Add(3*time.Second)))
	assert.Equal(t, 64, recent[0].Width)

	latest, err := l.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids[3], latest.ID)

	require.NoError(t, l.Delete(ctx, ids[:2]))
	require.NoError(t, l.Delete(ctx, nil))

	all, err := l.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "capture-2.png", all[1].Name)

	_, err = l.Append(ctx, Record{Name: "capture-3.png", URL: "dup"})
	assert.Error(t, err, "names are unique")

	assert.NoError(t, l.Ping(ctx))
}

func TestSQLiteLog(t *testing.T) {
	l, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "nested", "captures.db"))
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, "sqlite", l.Driver())
	exerciseLog(t, l)
}

func TestSQLiteLog_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "captures.db")

	l, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	_, err = l.Append(ctx, Record{Name: "a.png", URL: "u"})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer l.Close()
	n, err := l.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPostgresLog(t *testing.T) {
	dsn := os.Getenv("SCREENCAP_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SCREENCAP_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	l, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	defer l.Close()

	// Start from an empty table so ordering assertions hold.
	all, err := l.List(ctx, 0)
	require.NoError(t, err)
	var ids []int64
	for _, r := range all {
		ids = append(ids, r.ID)
	}
	require.NoError(t, l.Delete(ctx, ids))

	assert.Equal(t, "postgres", l.Driver())
	exerciseLog(t, l)
}

func TestOpen_Driver(t *testing.T) {
	cfg := config.LogConfig{Driver: "sqlite", DSN: ":memory:"}
	l, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, "sqlite", l.Driver())

	cfg.Driver = "mongo"
	_, err = Open(context.Background(), cfg)
	assert.Error(t, err)
}

func TestPlaceholders(t *testing.T) {
	pg := &sqlLog{d: postgresDialect}
	assert.Equal(t, "$1, $2, $3", pg.placeholders(1, 3))
	lite := &sqlLog{d: sqliteDialect}
	assert.Equal(t, "?, ?", lite.placeholders(1, 2))
}
