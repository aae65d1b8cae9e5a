package state

import (
	"database/sql"
	"time"

	"github.com/aibkh/dca-bridge-go/common"
	"github.com/aibkh/dca-bridge-go/database"
	ethcommon "github.com/ethereum/go-ethereum/common"
)

type StateDB struct {
	stmtCache *database.StmtCache
}

func NewStateDB(db *sql.DB) (*StateDB, error) {
	// 1. Create the tables.
	if _, err := db.Exec(transferTable + bridgeEventTable + kvTable); err != nil {
		return nil, err
	}

	// 2. A stmt cache + db.
	return &StateDB{
		stmtCache: database.NewStmtCache(db),
	}, nil
}

func (st *StateDB) Close() {
	st.stmtCache.Clear()
}

func (st *StateDB) GetKeyedValue(key ethcommon.Hash) (ethcommon.Hash, bool, error) {
	query := `SELECT value FROM kv WHERE key = ?`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return ethcommon.Hash{}, false, err
	}

	var value string
	keyHex := key.String()[2:]
	if err := stmt.QueryRow(keyHex).Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return ethcommon.Hash{}, false, nil
		}
		return ethcommon.Hash{}, false, err
	}

	return common.HexStrToHash("0x" + value), true, nil
}

func (st *StateDB) SetKeyedValue(key, value ethcommon.Hash) error {
	query := `INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return err
	}

	if _, err := stmt.Exec(key.String()[2:], value.String()[2:]); err != nil {
		return err
	}

	return nil
}

//
// Transfer requests
//

func (st *StateDB) InsertTransfer(t *TransferRequest) error {
	s, err := new(sqlTransfer).encode(t)
	if err != nil {
		return err
	}

	query := `INSERT INTO transfer (` + transferParamList + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return err
	}

	_, err = stmt.Exec(
		s.Id, s.SourceDomain, s.DestDomain, s.BurnToken, s.Recipient,
		s.Amount, s.MaxFee, s.Status, s.BurnTxHash, s.Message, s.Attestation,
		s.MintTxHash, s.Attempts, s.FailedPhase, s.LastError,
		s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func (st *StateDB) GetTransfer(id ethcommon.Hash) (*TransferRequest, bool, error) {
	query := `SELECT` + transferParamList + `FROM transfer WHERE id = ?`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return nil, false, err
	}

	s := &sqlTransfer{}
	err = stmt.QueryRow(id.String()[2:]).Scan(
		&s.Id, &s.SourceDomain, &s.DestDomain, &s.BurnToken, &s.Recipient,
		&s.Amount, &s.MaxFee, &s.Status, &s.BurnTxHash, &s.Message,
		&s.Attestation, &s.MintTxHash, &s.Attempts, &s.FailedPhase,
		&s.LastError, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	t, err := s.decode()
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

func (st *StateDB) GetTransfersByStatus(status TransferStatus) ([]*TransferRequest, error) {
	query := `SELECT` + transferParamList + `FROM transfer WHERE status = ? ORDER BY createdAt ASC`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []*TransferRequest
	for rows.Next() {
		s := &sqlTransfer{}
		err = rows.Scan(
			&s.Id, &s.SourceDomain, &s.DestDomain, &s.BurnToken, &s.Recipient,
			&s.Amount, &s.MaxFee, &s.Status, &s.BurnTxHash, &s.Message,
			&s.Attestation, &s.MintTxHash, &s.Attempts, &s.FailedPhase,
			&s.LastError, &s.CreatedAt, &s.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		t, err := s.decode()
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

// advance moves a transfer forward. The WHERE clause pins the expected
// current status, so a stale writer can never rewind a row.
func (st *StateDB) advance(id ethcommon.Hash, from []TransferStatus, set string, args ...interface{}) error {
	query := `UPDATE transfer SET ` + set + `, attempts = 0, updatedAt = ? WHERE id = ? AND status IN (`
	for i := range from {
		if i > 0 {
			query += `, `
		}
		query += `?`
	}
	query += `)`

	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return err
	}

	args = append(args, time.Now().Unix(), id.String()[2:])
	for _, f := range from {
		args = append(args, string(f))
	}

	res, err := stmt.Exec(args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		_, ok, err := st.GetTransfer(id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrTransferNotFound
		}
		return ErrForwardOnly
	}
	return nil
}

func (st *StateDB) MarkApproved(id ethcommon.Hash) error {
	return st.advance(id, []TransferStatus{StatusCreated},
		`status = 'approved'`)
}

func (st *StateDB) MarkBurned(id, burnTxHash ethcommon.Hash) error {
	return st.advance(id, []TransferStatus{StatusCreated, StatusApproved},
		`status = 'burned', burnTxHash = ?`, burnTxHash.String()[2:])
}

func (st *StateDB) MarkAttested(id ethcommon.Hash, message, attestation []byte) error {
	return st.advance(id, []TransferStatus{StatusBurned},
		`status = 'attested', message = ?, attestation = ?`, message, attestation)
}

func (st *StateDB) MarkMinted(id, mintTxHash ethcommon.Hash) error {
	return st.advance(id, []TransferStatus{StatusAttested},
		`status = 'minted', mintTxHash = ?`, mintTxHash.String()[2:])
}

// MarkMintedExternal records a mint that another worker landed; the tx hash
// is unknown here and stays NULL.
func (st *StateDB) MarkMintedExternal(id ethcommon.Hash) error {
	return st.advance(id, []TransferStatus{StatusAttested}, `status = 'minted'`)
}

// MarkFailed records the terminal error and the phase it happened in.
// A minted transfer can not fail.
func (st *StateDB) MarkFailed(id ethcommon.Hash, phase, lastError string) error {
	return st.advance(id,
		[]TransferStatus{StatusCreated, StatusApproved, StatusBurned, StatusAttested},
		`status = 'failed', failedPhase = ?, lastError = ?`, phase, lastError)
}

// MarkResumed is the operator escape hatch out of failed. The status is
// re-derived from the recorded artifacts, never chosen by the caller.
func (st *StateDB) MarkResumed(id ethcommon.Hash) (*TransferRequest, error) {
	t, ok, err := st.GetTransfer(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTransferNotFound
	}
	if t.Status != StatusFailed {
		return nil, ErrForwardOnly
	}

	resumed := t.ResumeStatus()
	err = st.advance(id, []TransferStatus{StatusFailed},
		`status = ?, failedPhase = NULL, lastError = NULL`, string(resumed))
	if err != nil {
		return nil, err
	}

	t, _, err = st.GetTransfer(id)
	return t, err
}

func (st *StateDB) IncrementAttempts(id ethcommon.Hash) error {
	query := `UPDATE transfer SET attempts = attempts + 1, updatedAt = ? WHERE id = ?`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(time.Now().Unix(), id.String()[2:])
	return err
}

//
// Lease
//

// AcquireLease claims exclusive ownership of a transfer until the ttl runs
// out. The conditional UPDATE is the mutual exclusion: only one caller can
// move leaseOwner off its previous value. Re-acquisition by the same owner
// extends the lease.
func (st *StateDB) AcquireLease(id ethcommon.Hash, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().Unix()
	query := `UPDATE transfer SET leaseOwner = ?, leaseUntil = ?
		WHERE id = ? AND (leaseOwner IS NULL OR leaseOwner = ? OR leaseUntil < ?)`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return false, err
	}

	res, err := stmt.Exec(owner, now+int64(ttl.Seconds()), id.String()[2:], owner, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (st *StateDB) ReleaseLease(id ethcommon.Hash, owner string) error {
	query := `UPDATE transfer SET leaseOwner = NULL, leaseUntil = 0
		WHERE id = ? AND leaseOwner = ?`
	stmt, err := st.stmtCache.Prepare(query)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(id.String()[2:], owner)
	return err
}
