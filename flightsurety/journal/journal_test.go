package journal_test

import (
	"context"
	"encoding/json"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/flightsurety/oracle-server/flightsurety/contract"
	"github.com/flightsurety/oracle-server/flightsurety/journal"
	"github.com/stretchr/testify/require"
)

var (
	appAddress = common.HexToAddress("0x5fbdb2315678afecb367f032d93f642f64180aa3")
	airline    = common.HexToAddress("0xf17f52151ebef6c7334fad080c5704d77216b732")
	passenger  = common.HexToAddress("0x821aea9a577a9b44299b9c15c88cf3087f3b5544")
)

func decode(t *testing.T, kind contract.EventKind, block uint64, index uint, args ...any) contract.Event {
	b := contract.Default()
	l, err := b.EncodeLog(kind, appAddress, args...)
	require.NoError(t, err)
	l.BlockNumber = block
	l.TxHash = common.BigToHash(new(big.Int).SetUint64(block))
	l.Index = index

	ev, err := b.Decode(kind, l)
	require.NoError(t, err)
	return ev
}

func open(t *testing.T, path string) *journal.Journal {
	j, err := journal.Open(context.Background(), path, log.NewLogger(log.DiscardHandler()))
	require.NoError(t, err)
	return j
}

func TestRecordAndQuery(t *testing.T) {
	ctx := context.Background()
	j := open(t, filepath.Join(t.TempDir(), "journal.db"))
	defer j.Close()

	funded := decode(t, contract.KindFundedAirlines, 3, 0, airline, big.NewInt(10_000_000_000_000_000))
	purchased := decode(t, contract.KindPurchaseInsurance, 4, 1, passenger, airline, "AD2413", big.NewInt(1594771200), big.NewInt(1000))
	report := decode(t, contract.KindOracleReport, 5, 0, airline, "AD2413", big.NewInt(1594771200), contract.StatusLateAirline)

	for _, ev := range []contract.Event{funded, purchased, report} {
		added, err := j.Record(ctx, ev)
		require.NoError(t, err)
		require.True(t, added)
	}

	// replayed logs are not journaled twice
	added, err := j.Record(ctx, purchased)
	require.NoError(t, err)
	require.False(t, added)

	all, err := j.Entries(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, string(contract.KindOracleReport), all[0].Kind)
	require.Equal(t, string(contract.KindFundedAirlines), all[2].Kind)
	require.Equal(t, j.Session(), all[0].Session)

	insured, err := j.Entries(ctx, string(contract.KindPurchaseInsurance), 10)
	require.NoError(t, err)
	require.Len(t, insured, 1)
	require.Equal(t, uint64(4), insured[0].Block)
	require.Equal(t, uint(1), insured[0].LogIndex)
	require.Equal(t, common.BigToHash(big.NewInt(4)), insured[0].TxHash)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(insured[0].Fields, &fields))
	require.Equal(t, "AD2413", fields["flight"])
	require.Equal(t, float64(1000), fields["amount"])

	limited, err := j.Entries(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)

	none, err := j.Entries(ctx, string(contract.KindWithdraw), 10)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestReopenKeepsEntries(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "journal.db")

	j := open(t, path)
	_, err := j.Record(ctx, decode(t, contract.KindRegisterAirline, 1, 0, airline))
	require.NoError(t, err)
	first := j.Session()
	require.NoError(t, j.Close())

	j = open(t, path)
	defer j.Close()
	require.NotEqual(t, first, j.Session())

	entries, err := j.Entries(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, first, entries[0].Session)
}

func TestJournalIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j := open(t, path)
	defer j.Close()

	_, err := journal.Open(context.Background(), path, log.NewLogger(log.DiscardHandler()))
	require.ErrorIs(t, err, journal.ErrLocked)
}

func TestFieldsAreStoredAsJSON(t *testing.T) {
	ctx := context.Background()
	j := open(t, filepath.Join(t.TempDir(), "journal.db"))
	defer j.Close()

	ev := decode(t, contract.KindSubmitOracleResponse, 7, 2, [contract.IndexCount]uint8{1, 3, 4}, airline, "JJ3720", big.NewInt(1), contract.StatusOnTime)
	_, err := j.Record(ctx, ev)
	require.NoError(t, err)

	entries, err := j.Entries(ctx, string(contract.KindSubmitOracleResponse), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.JSONEq(t, `{
		"indexes": [1, 3, 4],
		"airline": "0xf17f52151ebef6c7334fad080c5704d77216b732",
		"flight": "JJ3720",
		"timestamp": 1,
		"statusCode": 10
	}`, string(entries[0].Fields))
}
