package state

import (
	"database/sql"
	"math/big"
	"time"

	"github.com/aibkh/dca-bridge-go/common"
	ethcommon "github.com/ethereum/go-ethereum/common"
)

//
// Bridge event records (append-only)
//

// InsertBridgeEvent records a newly observed source-chain request event.
// Returns ErrDuplicateEvent when the (chain, tx, logIndex) key is already
// present, which is how at-least-once event delivery gets deduplicated.
func (st *StateDB) InsertBridgeEvent(rec *BridgeEventRecord) error {
	query := `INSERT OR IGNORE INTO bridgeEvent (
		chainId, eventTxHash, logIndex, transferId, planId, thresholdIndex,
		usdcAmount, price, priceUpdatedAt, createdAt
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return err
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	res, err := stmt.Exec(
		rec.ChainId,
		rec.EventTxHash.String()[2:],
		rec.LogIndex,
		rec.TransferId.String()[2:],
		rec.PlanId,
		rec.ThresholdIndex,
		rec.UsdcAmount.Uint64(),
		rec.Price,
		rec.PriceUpdatedAt.Unix(),
		createdAt.Unix(),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicateEvent
	}
	return nil
}

func (st *StateDB) HasBridgeEvent(chainId uint64, eventTxHash ethcommon.Hash, logIndex uint32) (bool, error) {
	query := `SELECT COUNT(*) FROM bridgeEvent WHERE chainId = ? AND eventTxHash = ? AND logIndex = ?`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return false, err
	}

	var count int
	if err := stmt.QueryRow(chainId, eventTxHash.String()[2:], logIndex).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (st *StateDB) SetBridgeEventMint(transferId, mintTxHash ethcommon.Hash) error {
	query := `UPDATE bridgeEvent SET mintTxHash = ? WHERE transferId = ?`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(mintTxHash.String()[2:], transferId.String()[2:])
	return err
}

// ClaimSwap marks the swap slot of a transfer's event record as taken.
// The swapTxHash IS NULL guard makes this a once-only claim: a second caller
// gets ErrSwapAlreadySet instead of a second swap.
func (st *StateDB) ClaimSwap(transferId, swapTxHash ethcommon.Hash, btcOut *big.Int) error {
	query := `UPDATE bridgeEvent SET swapTxHash = ?, btcOut = ?
		WHERE transferId = ? AND swapTxHash IS NULL`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return err
	}

	res, err := stmt.Exec(swapTxHash.String()[2:], btcOut.Uint64(), transferId.String()[2:])
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSwapAlreadySet
	}
	return nil
}

func (st *StateDB) GetHistory(limit int) ([]*BridgeEventRecord, error) {
	query := `SELECT` + bridgeEventParamList + `FROM bridgeEvent ORDER BY createdAt DESC, seq DESC LIMIT ?`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*BridgeEventRecord
	for rows.Next() {
		rec, err := scanBridgeEvent(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (st *StateDB) GetBridgeEventByTransfer(transferId ethcommon.Hash) (*BridgeEventRecord, bool, error) {
	query := `SELECT` + bridgeEventParamList + `FROM bridgeEvent WHERE transferId = ?`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return nil, false, err
	}

	rows, err := stmt.Query(transferId.String()[2:])
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, false, rows.Err()
	}
	rec, err := scanBridgeEvent(rows)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (st *StateDB) GetSummary() (*Summary, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(usdcAmount), 0), COALESCE(SUM(btcOut), 0) FROM bridgeEvent`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return nil, err
	}

	var count, totalUsdc, totalBtc int64
	if err := stmt.QueryRow().Scan(&count, &totalUsdc, &totalBtc); err != nil {
		return nil, err
	}

	return &Summary{
		Count:        count,
		TotalBridged: big.NewInt(totalUsdc),
		TotalSwapped: big.NewInt(totalBtc),
	}, nil
}

func scanBridgeEvent(rows *sql.Rows) (*BridgeEventRecord, error) {
	var (
		rec            BridgeEventRecord
		eventTxHash    string
		transferId     string
		usdcAmount     uint64
		priceUpdatedAt int64
		mintTxHash     sql.NullString
		swapTxHash     sql.NullString
		btcOut         uint64
		createdAt      int64
	)

	err := rows.Scan(
		&rec.Seq, &rec.ChainId, &eventTxHash, &rec.LogIndex, &transferId,
		&rec.PlanId, &rec.ThresholdIndex, &usdcAmount, &rec.Price,
		&priceUpdatedAt, &mintTxHash, &swapTxHash, &btcOut, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	rec.EventTxHash = common.HexStrToHash("0x" + eventTxHash)
	rec.TransferId = common.HexStrToHash("0x" + transferId)
	rec.UsdcAmount = new(big.Int).SetUint64(usdcAmount)
	rec.PriceUpdatedAt = time.Unix(priceUpdatedAt, 0).UTC()
	if mintTxHash.Valid {
		rec.MintTxHash = common.HexStrToHash("0x" + mintTxHash.String)
	}
	if swapTxHash.Valid {
		rec.SwapTxHash = common.HexStrToHash("0x" + swapTxHash.String)
	}
	rec.BtcOut = new(big.Int).SetUint64(btcOut)
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()

	return &rec, nil
}
