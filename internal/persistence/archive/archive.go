// Package archive exports a finished run as compressed JSON lines, one
// record per row, so a run can be analyzed after its database is gone.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/klauspost/compress/zstd"

	"aftercoin.ai/internal/persistence/store"
)

// record is one line of the export: the table it came from plus the row.
type record struct {
	Table string `json:"table"`
	Row   any    `json:"row"`
}

// Export writes every table that tells the story of the run to path as
// zstd-compressed JSONL. An existing file is truncated.
func Export(ctx context.Context, st *store.Store, path string, logger *log.Logger) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	enc := json.NewEncoder(zw)

	total := 0
	add := func(n int, err error) error {
		total += n
		return err
	}

	if err := add(dump[store.GameState](ctx, st, enc, "game_state", `SELECT * FROM game_state`)); err != nil {
		return err
	}
	if err := add(dump[store.Actor](ctx, st, enc, "actors", `SELECT * FROM actors ORDER BY id`)); err != nil {
		return err
	}
	if err := add(dump[store.Trade](ctx, st, enc, "trades", `SELECT * FROM trades ORDER BY id`)); err != nil {
		return err
	}
	if err := add(dump[store.LeveragePosition](ctx, st, enc, "leverage_positions", `SELECT * FROM leverage_positions ORDER BY id`)); err != nil {
		return err
	}
	if err := add(dump[store.Alliance](ctx, st, enc, "alliances", `SELECT * FROM alliances ORDER BY id`)); err != nil {
		return err
	}
	if err := add(dump[store.AllianceMember](ctx, st, enc, "alliance_members", `SELECT * FROM alliance_members ORDER BY id`)); err != nil {
		return err
	}
	if err := add(dump[store.MarketPrice](ctx, st, enc, "market_prices", `SELECT * FROM market_prices ORDER BY id`)); err != nil {
		return err
	}
	if err := add(dump[store.Post](ctx, st, enc, "posts", `SELECT * FROM posts ORDER BY id`)); err != nil {
		return err
	}
	if err := add(dump[store.Elimination](ctx, st, enc, "eliminations", `SELECT * FROM eliminations ORDER BY id`)); err != nil {
		return err
	}
	if err := add(dump[store.ReputationLog](ctx, st, enc, "reputation_logs", `SELECT * FROM reputation_logs ORDER BY id`)); err != nil {
		return err
	}
	if err := add(dump[store.BalanceSnapshot](ctx, st, enc, "balance_snapshots", `SELECT * FROM balance_snapshots ORDER BY id`)); err != nil {
		return err
	}
	if err := add(dump[store.SystemEvent](ctx, st, enc, "system_events", `SELECT * FROM system_events ORDER BY id`)); err != nil {
		return err
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	logger.Printf("archived %d records to %s", total, path)
	return nil
}

func dump[T any](ctx context.Context, st *store.Store, enc *json.Encoder, table, query string) (int, error) {
	var rows []T
	if err := st.DB().SelectContext(ctx, &rows, query); err != nil {
		return 0, fmt.Errorf("read %s: %w", table, err)
	}
	for _, row := range rows {
		if err := enc.Encode(record{Table: table, Row: row}); err != nil {
			return 0, fmt.Errorf("encode %s: %w", table, err)
		}
	}
	return len(rows), nil
}
