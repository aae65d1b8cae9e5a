package state

import (
	"database/sql"
	"math/big"
	"time"

	"github.com/aibkh/dca-bridge-go/common"
)

// sqlTransfer mirrors the transfer table. Hashes and addresses are stored as
// hex strings without the 0x prefix; empty hashes become NULL so the UNIQUE
// constraints only bite on real values.
type sqlTransfer struct {
	Id           string
	SourceDomain uint32
	DestDomain   uint32
	BurnToken    string
	Recipient    string
	Amount       uint64
	MaxFee       uint64
	Status       string
	BurnTxHash   sql.NullString
	Message      []byte
	Attestation  []byte
	MintTxHash   sql.NullString
	Attempts     int
	FailedPhase  sql.NullString
	LastError    sql.NullString
	CreatedAt    int64
	UpdatedAt    int64
}

func nullableHash(hexStr string) sql.NullString {
	if hexStr == strZeroBytes32 {
		return sql.NullString{}
	}
	return sql.NullString{String: hexStr, Valid: true}
}

func nullableStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func (s *sqlTransfer) encode(t *TransferRequest) (*sqlTransfer, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	s.Id = t.Id.String()[2:]
	s.SourceDomain = t.SourceDomain
	s.DestDomain = t.DestDomain
	s.BurnToken = common.ByteSliceToPureHexStr(t.BurnToken.Bytes())
	s.Recipient = common.ByteSliceToPureHexStr(t.Recipient.Bytes())
	s.Amount = t.Amount.Uint64()
	s.MaxFee = t.MaxFee.Uint64()
	s.Status = string(t.Status)
	s.BurnTxHash = nullableHash(t.BurnTxHash.String()[2:])
	s.Message = t.Message
	s.Attestation = t.Attestation
	s.MintTxHash = nullableHash(t.MintTxHash.String()[2:])
	s.Attempts = t.Attempts
	s.FailedPhase = nullableStr(t.FailedPhase)
	s.LastError = nullableStr(t.LastError)
	// callers rarely fill the timestamps; default to insertion time
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	updatedAt := t.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	s.CreatedAt = createdAt.Unix()
	s.UpdatedAt = updatedAt.Unix()

	return s, nil
}

func (s *sqlTransfer) decode() (*TransferRequest, error) {
	t := &TransferRequest{
		Id:           common.HexStrToHash("0x" + s.Id),
		SourceDomain: s.SourceDomain,
		DestDomain:   s.DestDomain,
		BurnToken:    common.HexStrToEthAddress(s.BurnToken),
		Recipient:    common.HexStrToEthAddress(s.Recipient),
		Amount:       new(big.Int).SetUint64(s.Amount),
		MaxFee:       new(big.Int).SetUint64(s.MaxFee),
		Status:       TransferStatus(s.Status),
		Message:      s.Message,
		Attestation:  s.Attestation,
		Attempts:     s.Attempts,
		CreatedAt:    time.Unix(s.CreatedAt, 0).UTC(),
		UpdatedAt:    time.Unix(s.UpdatedAt, 0).UTC(),
	}
	if s.BurnTxHash.Valid {
		t.BurnTxHash = common.HexStrToHash("0x" + s.BurnTxHash.String)
	}
	if s.MintTxHash.Valid {
		t.MintTxHash = common.HexStrToHash("0x" + s.MintTxHash.String)
	}
	if s.FailedPhase.Valid {
		t.FailedPhase = s.FailedPhase.String
	}
	if s.LastError.Valid {
		t.LastError = s.LastError.String
	}

	return t, nil
}
