package db

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/russross/meddler"
	"github.com/stretchr/testify/require"
)

type meddlerRow struct {
	ID      int64           `meddler:"id,pk"`
	TxHash  common.Hash     `meddler:"tx_hash,hash"`
	Source  common.Address  `meddler:"source,address"`
	Owner   *common.Address `meddler:"owner,address"`
	Amount  *uint256.Int    `meddler:"amount,uint256"`
	TokenID uint256.Int     `meddler:"token_id,uint256"`
}

func TestTextMeddlers(t *testing.T) {
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "meddler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE rows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tx_hash TEXT NOT NULL,
		source TEXT NOT NULL,
		owner TEXT,
		amount TEXT,
		token_id TEXT NOT NULL
	)`)
	require.NoError(t, err)

	owner := common.HexToAddress("0xaa")
	big, err := uint256.FromDecimal("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	require.NoError(t, err)

	tests := []struct {
		name string
		row  meddlerRow
	}{
		{
			name: "all set",
			row: meddlerRow{
				TxHash:  common.HexToHash("0x01"),
				Source:  common.HexToAddress("0x02"),
				Owner:   &owner,
				Amount:  big,
				TokenID: *uint256.NewInt(42),
			},
		},
		{
			name: "nullable fields empty",
			row: meddlerRow{
				TxHash: common.HexToHash("0x03"),
				Source: common.HexToAddress("0x04"),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := tt.row
			require.NoError(t, meddler.Insert(db, "rows", &row))

			var got meddlerRow
			require.NoError(t, meddler.Load(db, "rows", &got, row.ID))
			require.Equal(t, row, got)
		})
	}
}

func TestParseMigration(t *testing.T) {
	m, err := parseMigration(Migration{
		ID:     "001.sql",
		Prefix: "store_",
		SQL: `-- +migrate Down
DROP TABLE /*dbprefix*/things;

-- +migrate Up
CREATE TABLE /*dbprefix*/things (id TEXT);`,
	})
	require.NoError(t, err)
	require.Equal(t, "store_001.sql", m.Id)
	require.Equal(t, []string{"CREATE TABLE store_things (id TEXT);"}, m.Up)
	require.Equal(t, []string{"DROP TABLE store_things;"}, m.Down)

	_, err = parseMigration(Migration{ID: "broken.sql", SQL: "CREATE TABLE x (id TEXT);"})
	require.ErrorContains(t, err, "missing")
}
